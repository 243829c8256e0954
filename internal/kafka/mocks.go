package kafka

import (
	"context"
	"fmt"
	"sync"

	"go-retry/pkg/models"
)

// MockProducer is a mock implementation of ProducerClient for testing
type MockProducer struct {
	mu                sync.RWMutex
	PublishedMessages []PublishedMessage
	PublishFunc       func(ctx context.Context, topic string, key, value []byte, headers models.Headers) error
	CloseFunc         func() error
	FailCount         int
	failureCounter    int
}

type PublishedMessage struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers models.Headers
}

func NewMockProducer() *MockProducer {
	return &MockProducer{
		PublishedMessages: make([]PublishedMessage, 0),
	}
}

func (m *MockProducer) Publish(ctx context.Context, topic string, key, value []byte, headers models.Headers) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, key, value, headers); err != nil {
			return err
		}
	}

	// Simulate failures for testing retry logic
	if m.FailCount > 0 {
		m.failureCounter++
		if m.failureCounter <= m.FailCount {
			return fmt.Errorf("simulated publish failure %d", m.failureCounter)
		}
	}

	m.PublishedMessages = append(m.PublishedMessages, PublishedMessage{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers.Clone(),
	})

	return nil
}

func (m *MockProducer) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockProducer) GetPublishedMessages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]PublishedMessage, len(m.PublishedMessages))
	copy(messages, m.PublishedMessages)
	return messages
}

func (m *MockProducer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishedMessages = make([]PublishedMessage, 0)
	m.failureCounter = 0
}
