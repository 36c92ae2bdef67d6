package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"campfire/internal/models"
)

var roomNames = []string{
	"General", "Watercooler", "Announcements", "Engineering", "Design",
	"Support", "Random", "Music", "Gaming", "Books", "Food", "Travel",
	"Pets", "Fitness", "Movies",
}

func fakeUser(passwordDigest string) *models.User {
	name := gofakeit.Name()
	return &models.User{
		Name:           name,
		Email:          fakeEmail(name),
		PasswordDigest: passwordDigest,
		Role:           models.UserRoleMember,
		Bio:            gofakeit.Sentence(8),
		Active:         true,
	}
}

// fakeEmail derives a unique address from the display name so seeded
// accounts are easy to log in as.
func fakeEmail(name string) string {
	local := strings.ToLower(strings.ReplaceAll(name, " ", "."))
	return fmt.Sprintf("%s.%d@example.com", local, gofakeit.Number(100, 999))
}

// fakeBody produces a message body, occasionally mentioning one of the
// given users so the inbox views have content.
func fakeBody(r *rand.Rand, members []*models.User) (string, *models.User) {
	body := gofakeit.Sentence(r.Intn(12) + 3)
	if len(members) > 0 && r.Intn(5) == 0 {
		target := members[r.Intn(len(members))]
		return "@" + target.Handle() + " " + body, target
	}
	return body, nil
}

func fakeMessage(roomID, creatorID uint, body string, createdAt time.Time) *models.Message {
	return &models.Message{
		RoomID:          roomID,
		CreatorID:       creatorID,
		ClientMessageID: uuid.NewString(),
		Body:            body,
		Active:          true,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}
