// Package seed fills a development database with users, rooms, and
// message history.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"campfire/internal/models"
)

// Options configures a seeding run.
type Options struct {
	NumUsers    int
	NumRooms    int
	NumMessages int
	ShouldClean bool
	// Seed fixes the random source for reproducible datasets. Zero uses
	// the current time.
	Seed int64
}

// DefaultPassword is the password every seeded account logs in with.
const DefaultPassword = "campfire-dev"

// Run seeds the database. Every seeded user joins the open rooms; closed
// rooms get a random member subset; a portion of memberships are left
// with unread watermarks so the sidebar has badges out of the box.
func Run(db *gorm.DB, opts Options) error {
	if opts.NumUsers <= 0 {
		opts.NumUsers = 25
	}
	if opts.NumRooms <= 0 {
		opts.NumRooms = 8
	}
	if opts.NumMessages <= 0 {
		opts.NumMessages = 400
	}
	if opts.NumRooms > len(roomNames) {
		opts.NumRooms = len(roomNames)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(seed))
	gofakeit.Seed(seed)

	if opts.ShouldClean {
		if err := Clean(db); err != nil {
			return err
		}
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}

	users, err := seedUsers(db, opts.NumUsers, string(digest))
	if err != nil {
		return err
	}
	rooms, err := seedRooms(db, r, opts.NumRooms, users)
	if err != nil {
		return err
	}
	if err := seedMessages(db, r, opts.NumMessages, rooms, users); err != nil {
		return err
	}

	log.Printf("seeded %d users, %d rooms, %d messages (password %q)",
		len(users), len(rooms), opts.NumMessages, DefaultPassword)
	return nil
}

// Clean removes all seedable data. Order matters for foreign keys.
func Clean(db *gorm.DB) error {
	tables := []string{
		"mentions", "push_subscriptions", "messages", "memberships", "rooms", "users",
	}
	for _, table := range tables {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("cleaning %s: %w", table, err)
		}
	}
	return nil
}

func seedUsers(db *gorm.DB, n int, digest string) ([]*models.User, error) {
	admin := &models.User{
		Name:           "Campfire Admin",
		Email:          "admin@example.com",
		PasswordDigest: digest,
		Role:           models.UserRoleAdministrator,
		Active:         true,
	}
	users := []*models.User{admin}
	for i := 1; i < n; i++ {
		users = append(users, fakeUser(digest))
	}
	if err := db.CreateInBatches(users, 50).Error; err != nil {
		return nil, fmt.Errorf("seeding users: %w", err)
	}
	return users, nil
}

func seedRooms(db *gorm.DB, r *rand.Rand, n int, users []*models.User) ([]*models.Room, error) {
	admin := users[0]
	var rooms []*models.Room

	for i := 0; i < n; i++ {
		kind := models.RoomKindOpen
		// Roughly a third of the rooms are invite-only.
		if i > 0 && r.Intn(3) == 0 {
			kind = models.RoomKindClosed
		}
		room := &models.Room{
			Name:      roomNames[i],
			Kind:      kind,
			Active:    true,
			CreatorID: admin.ID,
		}
		if err := db.Create(room).Error; err != nil {
			return nil, fmt.Errorf("seeding rooms: %w", err)
		}

		members := users
		if room.Closed() {
			members = randomSubset(r, users, 3+r.Intn(max(len(users)-2, 1)))
		}
		var memberships []*models.Membership
		for _, u := range members {
			memberships = append(memberships, &models.Membership{
				RoomID:      room.ID,
				UserID:      u.ID,
				Involvement: room.DefaultInvolvement(),
				Active:      true,
			})
		}
		if err := db.CreateInBatches(memberships, 100).Error; err != nil {
			return nil, fmt.Errorf("seeding memberships: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func seedMessages(db *gorm.DB, r *rand.Rand, n int, rooms []*models.Room, users []*models.User) error {
	membersByRoom := make(map[uint][]*models.User, len(rooms))
	for _, room := range rooms {
		var userIDs []uint
		if err := db.Model(&models.Membership{}).
			Where("room_id = ? AND active = ?", room.ID, true).
			Pluck("user_id", &userIDs).Error; err != nil {
			return err
		}
		index := make(map[uint]*models.User, len(users))
		for _, u := range users {
			index[u.ID] = u
		}
		for _, id := range userIDs {
			membersByRoom[room.ID] = append(membersByRoom[room.ID], index[id])
		}
	}

	// Spread history over the past two weeks, oldest first.
	start := time.Now().Add(-14 * 24 * time.Hour)
	step := 14 * 24 * time.Hour / time.Duration(n+1)

	counts := make(map[uint]int, len(rooms))
	lastAt := make(map[uint]time.Time, len(rooms))

	for i := 0; i < n; i++ {
		room := rooms[r.Intn(len(rooms))]
		members := membersByRoom[room.ID]
		if len(members) == 0 {
			continue
		}
		creator := members[r.Intn(len(members))]
		body, mentioned := fakeBody(r, members)
		at := start.Add(time.Duration(i) * step)

		msg := fakeMessage(room.ID, creator.ID, body, at)
		if err := db.Create(msg).Error; err != nil {
			return fmt.Errorf("seeding messages: %w", err)
		}
		if mentioned != nil && mentioned.ID != creator.ID {
			if err := db.Create(&models.Mention{MessageID: msg.ID, UserID: mentioned.ID}).Error; err != nil {
				return err
			}
		}
		counts[room.ID]++
		lastAt[room.ID] = at

		// Leave some members with an unread watermark on this message.
		if r.Intn(4) == 0 {
			reader := members[r.Intn(len(members))]
			if reader.ID != creator.ID {
				db.Model(&models.Membership{}).
					Where("room_id = ? AND user_id = ? AND unread_at IS NULL", room.ID, reader.ID).
					Update("unread_at", at)
			}
		}
	}

	for roomID, count := range counts {
		at := lastAt[roomID]
		if err := db.Model(&models.Room{}).Where("id = ?", roomID).
			Updates(map[string]any{"messages_count": count, "last_active_at": at}).Error; err != nil {
			return err
		}
	}
	return nil
}

func randomSubset(r *rand.Rand, users []*models.User, n int) []*models.User {
	if n >= len(users) {
		return users
	}
	perm := r.Perm(len(users))
	out := make([]*models.User, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, users[idx])
	}
	return out
}
