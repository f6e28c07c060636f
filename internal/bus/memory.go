package bus

import (
	"context"
	"sync"
)

// Message is one published payload.
type Message struct {
	Subject string
	Payload []byte
}

// MemoryBus keeps messages in memory. Tests and dry runs use it.
type MemoryBus struct {
	mu       sync.Mutex
	messages []Message
	err      error
	closed   bool
	notify   chan struct{}
}

var _ Bus = (*MemoryBus)(nil)

// NewMemory returns an empty MemoryBus.
func NewMemory() *MemoryBus {
	return &MemoryBus{notify: make(chan struct{}, 1)}
}

// Publish records the message, or returns the error set with FailWith.
func (b *MemoryBus) Publish(_ context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, Message{Subject: subject, Payload: append([]byte(nil), payload...)})
	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// FailWith makes later publishes return err. nil restores success.
func (b *MemoryBus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Messages returns a copy of every recorded message.
func (b *MemoryBus) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// Published signals after each recorded message. Signals coalesce.
func (b *MemoryBus) Published() <-chan struct{} {
	return b.notify
}

// Close rejects further publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
