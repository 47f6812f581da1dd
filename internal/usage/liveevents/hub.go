package liveevents

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/smallbiznis/quotaflow/internal/subject"
)

const (
	DefaultBacklogSize      = 50
	DefaultSubscriberBuffer = 16
)

var ErrHubUnavailable = errors.New("live_hub_unavailable")

// LiveEvent is one tracked usage event as pushed to stream subscribers.
type LiveEvent struct {
	EventID      string `json:"eventId"`
	EventType    string `json:"eventType"`
	Quantity     int64  `json:"quantity"`
	QuotaType    string `json:"quotaType,omitempty"`
	CurrentUsage int64  `json:"currentUsage"`
	LimitValue   int64  `json:"limitValue"`
	RecordedAt   string `json:"recordedAt"`
}

// Filter narrows a subscription. The zero value matches everything.
type Filter struct {
	EventType string
	QuotaType string
}

func (f Filter) Match(event LiveEvent) bool {
	if f.EventType != "" && f.EventType != event.EventType {
		return false
	}
	if f.QuotaType != "" && f.QuotaType != event.QuotaType {
		return false
	}
	return true
}

// Hub fans tracked usage out to the open streams of each subject. A subject
// keeps a short backlog only while someone is watching it.
type Hub struct {
	mu               sync.Mutex
	topics           map[subject.Subject]*topic
	backlogSize      int
	subscriberBuffer int
}

type topic struct {
	recent []LiveEvent
	subs   map[*Subscription]struct{}
}

// Subscription receives the events of one subject that pass its filter.
// A subscriber that falls behind loses events; Dropped counts them.
type Subscription struct {
	hub     *Hub
	subject subject.Subject
	filter  Filter
	ch      chan LiveEvent
	dropped atomic.Int64
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{
		topics:           make(map[subject.Subject]*topic),
		backlogSize:      DefaultBacklogSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(subj subject.Subject, event LiveEvent) {
	if h == nil || subj.Validate() != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[subj]
	if t == nil {
		return
	}
	t.recent = append(t.recent, event)
	if over := len(t.recent) - h.backlogSize; over > 0 {
		t.recent = append(t.recent[:0], t.recent[over:]...)
	}
	for sub := range t.subs {
		if !sub.filter.Match(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe opens a stream for subj and returns the backlog that passes
// filter, oldest first.
func (h *Hub) Subscribe(subj subject.Subject, filter Filter) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	if err := subj.Validate(); err != nil {
		return nil, nil, err
	}

	sub := &Subscription{
		hub:     h,
		subject: subj,
		filter:  filter,
		ch:      make(chan LiveEvent, h.subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[subj]
	if t == nil {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[subj] = t
	}
	t.subs[sub] = struct{}{}

	backlog := make([]LiveEvent, 0, len(t.recent))
	for _, event := range t.recent {
		if filter.Match(event) {
			backlog = append(backlog, event)
		}
	}
	return sub, backlog, nil
}

// Watching reports how many streams are open for subj.
func (h *Hub) Watching(subj subject.Subject) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if t := h.topics[subj]; t != nil {
		return len(t.subs)
	}
	return 0
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topics[sub.subject]
	if t == nil {
		return
	}
	delete(t.subs, sub)
	close(sub.ch)
	if len(t.subs) == 0 {
		delete(h.topics, sub.subject)
	}
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.remove(s)
	})
}
