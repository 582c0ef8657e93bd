package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Broker. Every topic is an append-only log and
// each subscription reads it from the first message, so consumers started
// after a publish still see it.
type Memory struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	done   chan struct{}
	closed bool
	now    func() time.Time
}

type memoryTopic struct {
	msgs   []Message
	signal chan struct{}
}

var _ Broker = (*Memory)(nil)

// NewMemory returns an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{
		topics: map[string]*memoryTopic{},
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Publish implements Publisher.
func (m *Memory) Publish(ctx context.Context, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, msg := range msgs {
		if strings.TrimSpace(msg.Topic) == "" {
			return fmt.Errorf("bus: topic is required")
		}
		t := m.topic(msg.Topic)
		msg.Offset = int64(len(t.msgs))
		msg.Time = m.now().UTC()
		t.msgs = append(t.msgs, msg)

		close(t.signal)
		t.signal = make(chan struct{})
	}
	return nil
}

// Subscribe implements Subscriber.
func (m *Memory) Subscribe(topic string) (Subscription, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("bus: topic is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	m.topic(topic)

	return &memorySubscription{
		bus:       m,
		topic:     topic,
		committed: -1,
		done:      make(chan struct{}),
	}, nil
}

// Messages returns a copy of everything published to topic.
func (m *Memory) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.topics[topic]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Close wakes every pending Fetch with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *Memory) topic(name string) *memoryTopic {
	t, ok := m.topics[name]
	if !ok {
		t = &memoryTopic{signal: make(chan struct{})}
		m.topics[name] = t
	}
	return t
}

type memorySubscription struct {
	bus       *Memory
	topic     string
	next      int
	committed int64
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) Fetch(ctx context.Context) (Message, error) {
	for {
		s.bus.mu.Lock()
		if s.bus.closed {
			s.bus.mu.Unlock()
			return Message{}, ErrClosed
		}
		t := s.bus.topic(s.topic)
		if s.next < len(t.msgs) {
			msg := t.msgs[s.next]
			s.next++
			s.bus.mu.Unlock()
			return msg, nil
		}
		signal := t.signal
		s.bus.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-s.done:
			return Message{}, ErrClosed
		case <-s.bus.done:
			return Message{}, ErrClosed
		case <-signal:
		}
	}
}

func (s *memorySubscription) Commit(_ context.Context, msg Message) error {
	if msg.Topic != s.topic {
		return fmt.Errorf("bus: commit for topic %q on subscription to %q", msg.Topic, s.topic)
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if msg.Offset > s.committed {
		s.committed = msg.Offset
	}
	return nil
}

// Committed returns the highest committed offset, -1 when nothing was committed.
func (s *memorySubscription) Committed() int64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.committed
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
