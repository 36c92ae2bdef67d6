// Package push enqueues and delivers browser push notifications through
// an asynq-backed background worker.
package push

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TypeMessagePush is the task type for a batch of message notifications.
const TypeMessagePush = "push:message"

// MessagePushPayload carries everything the worker needs to deliver one
// message's notifications without re-running eligibility checks.
type MessagePushPayload struct {
	UserIDs     []uint `json:"user_ids"`
	RoomID      uint   `json:"room_id"`
	MessageID   uint   `json:"message_id"`
	RoomName    string `json:"room_name"`
	CreatorName string `json:"creator_name"`
	Excerpt     string `json:"excerpt"`
}

// NewMessagePushTask builds the asynq task for a message's push batch.
func NewMessagePushTask(payload MessagePushPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMessagePush, data, asynq.MaxRetry(3)), nil
}
