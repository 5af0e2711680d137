package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written on every new row. Readers accept anything up to it.
const EnvelopeVersion = 1

// ActorRef names who caused the change. Reconciliation and sweeps use Role
// "system" with no UserID.
type ActorRef struct {
	UserID   string     `json:"userId,omitempty"`
	FamilyID *uuid.UUID `json:"familyId,omitempty"`
	Role     string     `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// unchanged as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var errEmptyData = errors.New("envelope has no data")

// DecodeEnvelope parses a stored payload and rejects envelopes a reader
// cannot act on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return env, fmt.Errorf("envelope version %d not supported", env.Version)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, errEmptyData
	}
	return env, nil
}
