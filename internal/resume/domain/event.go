package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyEventType indicates a missing event type discriminator.
	ErrEmptyEventType = errors.New("event type is required")
	// ErrInvalidLimit indicates a non-positive read limit.
	ErrInvalidLimit = errors.New("limit must be greater than zero")
)

// Event is one durably observable game-state transition. Events are
// append-only: sequence numbers are assigned by the log, strictly increasing
// and gapless per game, starting at 1.
type Event struct {
	GameID      string
	Seq         uint64
	Type        string
	PayloadJSON []byte // caller-defined schema, opaque to this subsystem
	CreatedAt   time.Time
}

// AppendEventInput describes an event to record.
type AppendEventInput struct {
	GameID  string
	Type    string
	Payload []byte
}

// NormalizeAppendEventInput trims and validates event input. A nil payload
// is stored as an empty JSON object so replays always carry valid JSON.
func NormalizeAppendEventInput(input AppendEventInput) (AppendEventInput, error) {
	input.GameID = strings.TrimSpace(input.GameID)
	if input.GameID == "" {
		return AppendEventInput{}, ErrEmptyGameID
	}
	input.Type = strings.TrimSpace(input.Type)
	if input.Type == "" {
		return AppendEventInput{}, ErrEmptyEventType
	}
	if len(input.Payload) == 0 {
		input.Payload = []byte("{}")
	}
	return input, nil
}
