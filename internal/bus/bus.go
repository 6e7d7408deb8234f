// Package bus provides the in-process pub/sub used at component boundaries.
// Components exchange messages rather than sharing mutable state; delivery is
// at-least-once while publish contexts remain active.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/slbailey/retrovue/internal/log"
	"github.com/slbailey/retrovue/internal/metrics"
)

// Message is an opaque bus payload.
type Message interface{}

// Bus is the publish/subscribe boundary between components.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Subscriber is a single subscription on one topic.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Topics used by the core.
const (
	TopicViewerEvents    = "channel.viewer"
	TopicEngineCallbacks = "engine.callback"
	TopicBlockComplete   = "playout.block_complete"
)

const dropLogEvery = 100

var dropCount atomic.Uint64

// Memory is an in-memory Bus. It is not durable.
type Memory struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]chan Message)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *Memory) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	chs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()
	metrics.BusPublishTotal.WithLabelValues(topic).Inc()
	for _, ch := range chs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			reason := publishDropReason(ctx.Err())
			metrics.IncBusDropReason(topic, reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				l := log.L()
				l.Warn().
					Str("topic", topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

func (b *Memory) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, 64)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

type memSub struct {
	b     *Memory
	topic string
	ch    chan Message
	once  sync.Once
}

func (s *memSub) C() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		chs := s.b.subs[s.topic]
		for i, ch := range chs {
			if ch == s.ch {
				s.b.subs[s.topic] = append(chs[:i], chs[i+1:]...)
				break
			}
		}
		s.b.mu.Unlock()
	})
	return nil
}
