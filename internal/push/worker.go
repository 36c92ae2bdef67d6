package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"campfire/internal/middleware"
	"campfire/internal/models"
)

// Worker handles queued push tasks. Delivery failures for a single
// subscription never fail the whole batch; dead endpoints are pruned.
type Worker struct {
	db     *gorm.DB
	client *http.Client
}

// NewWorker creates a push worker over the given database.
func NewWorker(db *gorm.DB) *Worker {
	return &Worker{
		db: db,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register attaches the worker's handlers to an asynq mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeMessagePush, w.HandleMessagePush)
}

// HandleMessagePush delivers one message's notification batch.
func (w *Worker) HandleMessagePush(ctx context.Context, t *asynq.Task) error {
	var payload MessagePushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal push payload: %w", err)
	}
	if len(payload.UserIDs) == 0 {
		return nil
	}

	var subs []models.PushSubscription
	err := w.db.WithContext(ctx).
		Where("user_id IN ?", payload.UserIDs).
		Find(&subs).Error
	if err != nil {
		return fmt.Errorf("load push subscriptions: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"room_id":    payload.RoomID,
		"message_id": payload.MessageID,
		"title":      payload.RoomName,
		"body":       payload.CreatorName + ": " + payload.Excerpt,
	})
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := w.deliver(ctx, &sub, body); err != nil {
			middleware.Logger.WarnContext(ctx, "push delivery failed",
				slog.Uint64("subscription_id", uint64(sub.ID)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, sub *models.PushSubscription, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TTL", "30")
	req.Header.Set("Urgency", "high")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		// Endpoint is dead, drop the subscription.
		_ = w.db.WithContext(ctx).Delete(&models.PushSubscription{}, sub.ID).Error
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
