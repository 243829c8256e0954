// Package envelope defines the unit carried through the delay queue and its
// storage encoding.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"go-retry/pkg/models"
)

// Envelope carries a failed message between its failure and its redelivery.
// It is built once and treated as a value afterwards.
type Envelope struct {
	ID            string         `json:"id"`
	Key           string         `json:"key"`
	Value         Payload        `json:"value"`
	OriginalTopic string         `json:"originalTopic"`
	Headers       models.Headers `json:"headers"`
	RetryCount    int            `json:"retryCount"`
	EnqueuedAt    int64          `json:"enqueuedAt,omitempty"`
}

var (
	ErrMissingTopic  = errors.New("envelope has no original topic")
	ErrNegativeCount = errors.New("envelope retry count is negative")
)

// Validate checks the invariants every stored envelope must hold
func (e Envelope) Validate() error {
	if e.OriginalTopic == "" {
		return ErrMissingTopic
	}
	if e.RetryCount < 0 {
		return ErrNegativeCount
	}
	return nil
}

// Encode serializes e into its delay-store member form
func Encode(e Envelope) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

// Decode parses a delay-store member back into an Envelope
func Decode(member string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(member), &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// NextAttempt builds the message that redelivers e to its original topic.
// Every header except the retry counter is kept in order and the counter is
// appended as RetryCount+1.
func (e Envelope) NextAttempt() models.Message {
	headers := e.Headers.Without(models.HeaderRetryCount)
	headers = headers.With(models.HeaderRetryCount, fmt.Sprint(e.RetryCount+1))

	return models.Message{
		Topic:   e.OriginalTopic,
		Key:     []byte(e.Key),
		Value:   e.Value.Bytes(),
		Headers: headers,
	}
}
