// Package messaging carries records between the page observation context and
// the background pipeline. Payloads are JSON-encoded on send so no live
// reference crosses the boundary.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pbaille/nexusdiet/internal/domain"
)

// Kind identifies a message type on the wire
type Kind string

const (
	// KindPageVisitCollected carries a finished PageRecord to the pipeline
	KindPageVisitCollected Kind = "DATA_COLLECTED"
	// KindGetPageData asks the observation context for its current snapshot
	KindGetPageData Kind = "GET_PAGE_DATA"
)

// ErrBusClosed is returned by Publish after Close
var ErrBusClosed = errors.New("bus closed")

// Message is the envelope exchanged between contexts
type Message struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Bus is an asynchronous, buffered channel of messages.
// Publish blocks when the buffer is full until ctx is done.
type Bus struct {
	ch      chan Message
	closing chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewBus creates a bus holding up to buffer undelivered messages
func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan Message, buffer), closing: make(chan struct{})}
}

// Publish sends rec as a page-visit-collected message
func (b *Bus) Publish(ctx context.Context, rec domain.PageRecord) error {
	msg, err := NewPageVisit(rec)
	if err != nil {
		return err
	}
	return b.Send(ctx, msg)
}

// Send enqueues a raw message
func (b *Bus) Send(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case <-b.closing:
		return ErrBusClosed
	default:
	}

	select {
	case b.ch <- msg:
		return nil
	case <-b.closing:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages is the receive side; it is closed by Close
func (b *Bus) Messages() <-chan Message {
	return b.ch
}

// Close stops accepting messages; pending ones can still be drained.
// Senders blocked on a full buffer return ErrBusClosed.
func (b *Bus) Close() {
	// Wake blocked senders first so they release the read lock.
	b.once.Do(func() { close(b.closing) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

// NewPageVisit builds a page-visit-collected envelope
func NewPageVisit(rec domain.PageRecord) (Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Message{}, fmt.Errorf("encode page record: %w", err)
	}
	return Message{Type: KindPageVisitCollected, Data: data}, nil
}

// DecodePageRecord extracts the PageRecord payload of a page-visit message
func DecodePageRecord(msg Message) (domain.PageRecord, error) {
	if msg.Type != KindPageVisitCollected {
		return domain.PageRecord{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var rec domain.PageRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		return domain.PageRecord{}, fmt.Errorf("decode page record: %w", err)
	}
	return rec, nil
}
