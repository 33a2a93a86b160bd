// Package cloudevent implements the structured JSON mode of CloudEvents 1.0:
// building and validating events, posting them to webhooks with an optional
// HMAC signature, and decoding them on the receiving side.
package cloudevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// SpecVersion is the only CloudEvents version produced and accepted.
const SpecVersion = "1.0"

// maxEventSize bounds decoded events.
const maxEventSize = 1 << 20

// ErrInvalidEvent is returned for events missing a required attribute.
var ErrInvalidEvent = errors.New("invalid cloudevent")

// CloudEvent is a CloudEvents 1.0 event in structured JSON form.
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject,omitempty"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current UTC time.
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// Validate checks the attributes CloudEvents requires. The returned error
// wraps ErrInvalidEvent and names the first problem found.
func (e *CloudEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("%w: unsupported specversion %q", ErrInvalidEvent, e.SpecVersion)
	}
	switch {
	case e.Type == "":
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	case e.Source == "":
		return fmt.Errorf("%w: missing source", ErrInvalidEvent)
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	return nil
}

// Decode reads one structured-mode event and validates it.
func Decode(r io.Reader) (*CloudEvent, error) {
	var event CloudEvent
	if err := json.NewDecoder(io.LimitReader(r, maxEventSize)).Decode(&event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
