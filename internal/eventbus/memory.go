package eventbus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agor/agord/internal/logging"
)

// MemoryBus implements EventBus with in-process channels; it is the
// single-replica default and the eventbus used by tests. Grounded on
// apps/backend/internal/events/bus/memory.go's pattern-matching/queue-group
// design (NATS-style `*`/`>` wildcard subjects compiled to regex,
// round-robin delivery within a queue group).
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySub
	queues        map[string]*queueGroup
	closed        bool
	log           *logging.Logger
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	pattern *regexp.Regexp
	handler EventHandler
	queue   string

	mu     sync.Mutex
	active bool
}

type queueGroup struct {
	mu          sync.Mutex
	subscribers []*memorySub
	nextIndex   int
}

// NewMemoryBus builds an empty in-process EventBus.
func NewMemoryBus(log *logging.Logger) *MemoryBus {
	if log == nil {
		log = logging.Default()
	}
	return &MemoryBus{
		subscriptions: make(map[string][]*memorySub),
		queues:        make(map[string]*queueGroup),
		log:           log,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	delivered := make(map[string]bool)
	for pattern, subs := range b.subscriptions {
		if !subjectMatches(subject, pattern) {
			continue
		}
		for _, sub := range subs {
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()
			if !active {
				continue
			}

			if sub.queue != "" {
				key := sub.queue + ":" + pattern
				if delivered[key] {
					continue
				}
				delivered[key] = true
				b.deliverToQueue(ctx, key, subject, event)
				continue
			}
			go b.deliver(ctx, sub, subject, event)
		}
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, sub *memorySub, subject string, event *Event) {
	if err := sub.handler(ctx, event); err != nil {
		b.log.Warn("event handler failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (b *MemoryBus) deliverToQueue(ctx context.Context, key, subject string, event *Event) {
	qg, ok := b.queues[key]
	if !ok {
		return
	}
	qg.mu.Lock()
	defer qg.mu.Unlock()
	if len(qg.subscribers) == 0 {
		return
	}
	for i := 0; i < len(qg.subscribers); i++ {
		idx := (qg.nextIndex + i) % len(qg.subscribers)
		sub := qg.subscribers[idx]
		sub.mu.Lock()
		active := sub.active
		sub.mu.Unlock()
		if active {
			qg.nextIndex = (idx + 1) % len(qg.subscribers)
			go b.deliver(ctx, sub, subject, event)
			return
		}
	}
}

func (b *MemoryBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

func (b *MemoryBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryBus) subscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	sub := &memorySub{
		bus:     b,
		subject: subject,
		pattern: compileSubjectPattern(subject),
		handler: handler,
		queue:   queue,
		active:  true,
	}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	if queue != "" {
		key := queue + ":" + subject
		qg, ok := b.queues[key]
		if !ok {
			qg = &queueGroup{}
			b.queues[key] = qg
		}
		qg.subscribers = append(qg.subscribers, sub)
	}
	return sub, nil
}

func (s *memorySub) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs, ok := s.bus.subscriptions[s.subject]; ok {
		for i, v := range subs {
			if v == s {
				s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	if s.queue != "" {
		key := s.queue + ":" + s.subject
		if qg, ok := s.bus.queues[key]; ok {
			qg.mu.Lock()
			for i, v := range qg.subscribers {
				if v == s {
					qg.subscribers = append(qg.subscribers[:i], qg.subscribers[i+1:]...)
					break
				}
			}
			qg.mu.Unlock()
		}
	}
	return nil
}

func (s *memorySub) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Request implements a local request/reply round-trip over a synthetic
// inbox subject, for interface parity with NATSBus.
func (b *MemoryBus) Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error) {
	reply := "_inbox." + event.ID
	respCh := make(chan *Event, 1)
	sub, err := b.Subscribe(reply, func(_ context.Context, e *Event) error {
		respCh <- e
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if event.Data == nil {
		event.Data = map[string]any{}
	}
	event.Data["_reply"] = reply
	if err := b.Publish(ctx, subject, event); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case resp := <-respCh:
		return resp, nil
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("request to %s timed out after %s", subject, timeout)
	}
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, s := range subs {
			s.mu.Lock()
			s.active = false
			s.mu.Unlock()
		}
	}
	b.subscriptions = make(map[string][]*memorySub)
	b.queues = make(map[string]*queueGroup)
}

func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func subjectMatches(subject, pattern string) bool {
	if !strings.ContainsAny(pattern, "*>") {
		return subject == pattern
	}
	re := compileSubjectPattern(pattern)
	return re != nil && re.MatchString(subject)
}

// compileSubjectPattern turns a NATS-style subject pattern (`*` matches one
// dot-delimited token, `>` matches the rest) into a regex.
func compileSubjectPattern(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}

var _ EventBus = (*MemoryBus)(nil)
