package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of change a queued mutation replays
type Action string

// Mutation actions
const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// MutationPayload is the tagged union carried by a QueuedMutation.
// Implementations are AddPayload, UpdatePayload and RemovePayload.
type MutationPayload interface {
	Action() Action
}

// AddPayload creates a new item
type AddPayload struct {
	Item Item `json:"item"`
}

// Action implements MutationPayload
func (AddPayload) Action() Action { return ActionAdd }

// UpdatePayload overwrites an existing item
type UpdatePayload struct {
	Item Item `json:"item"`
}

// Action implements MutationPayload
func (UpdatePayload) Action() Action { return ActionUpdate }

// RemovePayload marks an item removed from the shelf
type RemovePayload struct {
	ItemID    string    `json:"item_id"`
	RemovedAt time.Time `json:"removed_at"`
}

// Action implements MutationPayload
func (RemovePayload) Action() Action { return ActionRemove }

// QueuedMutation is a user action buffered while offline
type QueuedMutation struct {
	ID         string          `json:"id"`
	Action     Action          `json:"action"`
	Payload    MutationPayload `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Synced     bool            `json:"synced"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// EncodePayload serializes a payload for storage
func EncodePayload(p MutationPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil mutation payload")
	}
	switch p.(type) {
	case AddPayload, UpdatePayload, RemovePayload:
	default:
		return nil, fmt.Errorf("unsupported mutation payload %T", p)
	}
	return json.Marshal(p)
}

// DecodePayload restores a payload previously written by EncodePayload
func DecodePayload(action Action, raw []byte) (MutationPayload, error) {
	switch action {
	case ActionAdd:
		var p AddPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode add payload: %w", err)
		}
		return p, nil
	case ActionUpdate:
		var p UpdatePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode update payload: %w", err)
		}
		return p, nil
	case ActionRemove:
		var p RemovePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("failed to decode remove payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown mutation action %q", action)
	}
}

// MutationRequest is the wire form used by the HTTP surface to enqueue a mutation
type MutationRequest struct {
	Action Action          `json:"action" binding:"required"`
	Data   json.RawMessage `json:"data" binding:"required"`
}

// Payload decodes the request into the tagged union
func (r MutationRequest) Payload() (MutationPayload, error) {
	return DecodePayload(r.Action, r.Data)
}
