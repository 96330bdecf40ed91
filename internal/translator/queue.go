package translator

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// MessageKind is the websocket frame type of an outbound message
type MessageKind int

const (
	MessageBinary MessageKind = iota
	MessageText
)

func (k MessageKind) String() string {
	if k == MessageText {
		return "text"
	}
	return "binary"
}

// OutboundMessage is one queued frame together with its completion signal
type OutboundMessage struct {
	Kind    MessageKind
	Payload []byte

	once sync.Once
	done chan struct{}
	err  error
}

func newOutboundMessage(kind MessageKind, payload []byte) *OutboundMessage {
	return &OutboundMessage{
		Kind:    kind,
		Payload: payload,
		done:    make(chan struct{}),
	}
}

// resolve completes the message; later calls are ignored
func (m *OutboundMessage) resolve(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.done)
	})
}

// Done is closed once the message has been written, failed or been cancelled
func (m *OutboundMessage) Done() <-chan struct{} {
	return m.done
}

// Err returns the completion result; only meaningful after Done is closed
func (m *OutboundMessage) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Wait blocks until the message completes or ctx ends
func (m *OutboundMessage) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outboundQueue is a FIFO shared by many producers and the single send loop
type outboundQueue struct {
	mu     sync.Mutex
	items  deque.Deque[*OutboundMessage]
	signal chan struct{}
	closed bool
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{signal: make(chan struct{}, 1)}
}

// push enqueues m; it reports false once the queue has been closed
func (q *outboundQueue) push(m *OutboundMessage) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.PushBack(m)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// take returns the oldest message, waiting at most timeout for one to arrive
func (q *outboundQueue) take(ctx context.Context, timeout time.Duration) (*OutboundMessage, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			m := q.items.PopFront()
			q.mu.Unlock()
			return m, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		case <-timer.C:
			return nil, false
		}
	}
}

// drain rejects further pushes and returns whatever was still queued
func (q *outboundQueue) drain() []*OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	pending := make([]*OutboundMessage, 0, q.items.Len())
	for q.items.Len() > 0 {
		pending = append(pending, q.items.PopFront())
	}
	return pending
}

func (q *outboundQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
