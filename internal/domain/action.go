package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType enumerates the mutations the offline queue can replay.
type ActionType string

const (
	ActionAdd        ActionType = "add"
	ActionUpdate     ActionType = "update"
	ActionDelete     ActionType = "delete"
	ActionMarkRead   ActionType = "mark_read"
	ActionMarkShared ActionType = "mark_shared"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionAdd, ActionUpdate, ActionDelete, ActionMarkRead, ActionMarkShared:
		return true
	}
	return false
}

// QueuedAction is a deferred mutation persisted until it succeeds or runs out
// of retries.
type QueuedAction struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
}

// Decode unmarshals the payload into v.
func (a QueuedAction) Decode(v any) error {
	if err := json.Unmarshal(a.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", a.Type, err)
	}
	return nil
}

// Payloads carried by queued actions.

type SavePayload struct {
	// Hash is the local hash shown while the action is pending.
	Hash        string    `json:"hash,omitempty"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Extended    string    `json:"extended,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Shared      *bool     `json:"shared,omitempty"`
	ToRead      *bool     `json:"toread,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// Params converts the payload into an add submission.
func (p SavePayload) Params(replace bool) AddParams {
	return AddParams{
		URL:         p.URL,
		Description: p.Description,
		Extended:    p.Extended,
		Tags:        p.Tags,
		Replace:     replace,
		Shared:      p.Shared,
		ToRead:      p.ToRead,
		CreatedAt:   p.CreatedAt,
	}
}

// SavePayloadFrom is the inverse of SavePayload.Params.
func SavePayloadFrom(p AddParams) SavePayload {
	return SavePayload{
		URL:         p.URL,
		Description: p.Description,
		Extended:    p.Extended,
		Tags:        p.Tags,
		Shared:      p.Shared,
		ToRead:      p.ToRead,
		CreatedAt:   p.CreatedAt,
	}
}

type DeletePayload struct {
	URL string `json:"url"`
}

type FlagPayload struct {
	Hash  string `json:"hash"`
	URL   string `json:"url"`
	Value bool   `json:"value"`
}
