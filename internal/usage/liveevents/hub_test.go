package liveevents

import (
	"testing"
	"time"

	"github.com/smallbiznis/quotaflow/internal/subject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := NewHub()
	hub.Publish(subject.User(1), LiveEvent{EventID: "a"})

	sub, backlog, err := hub.Subscribe(subject.User(1), Filter{})
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)
}

func TestSubscribeReceivesBacklogAndLiveEvents(t *testing.T) {
	hub := NewHub()
	org := subject.Organization(9)

	first, _, err := hub.Subscribe(org, Filter{})
	require.NoError(t, err)
	defer first.Close()

	hub.Publish(org, LiveEvent{EventID: "1", EventType: "api_call", Quantity: 2})
	// same id, different subject type
	hub.Publish(subject.User(9), LiveEvent{EventID: "other"})

	select {
	case event := <-first.Events():
		assert.Equal(t, "1", event.EventID)
	case <-time.After(time.Second):
		t.Fatal("expected live event")
	}

	second, backlog, err := hub.Subscribe(org, Filter{})
	require.NoError(t, err)
	defer second.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, int64(2), backlog[0].Quantity)
}

func TestSubscriptionFilter(t *testing.T) {
	hub := NewHub()
	subj := subject.User(4)

	all, _, err := hub.Subscribe(subj, Filter{})
	require.NoError(t, err)
	defer all.Close()

	hub.Publish(subj, LiveEvent{EventID: "1", EventType: "api_call", QuotaType: "api_calls"})
	hub.Publish(subj, LiveEvent{EventID: "2", EventType: "email_sent", QuotaType: "emails"})

	emails, backlog, err := hub.Subscribe(subj, Filter{EventType: "email_sent"})
	require.NoError(t, err)
	defer emails.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, "2", backlog[0].EventID)

	hub.Publish(subj, LiveEvent{EventID: "3", EventType: "api_call", QuotaType: "api_calls"})
	hub.Publish(subj, LiveEvent{EventID: "4", EventType: "email_sent", QuotaType: "emails"})

	select {
	case event := <-emails.Events():
		assert.Equal(t, "4", event.EventID)
	case <-time.After(time.Second):
		t.Fatal("expected filtered event")
	}
	assert.Len(t, all.Events(), 4)

	assert.True(t, Filter{QuotaType: "emails"}.Match(LiveEvent{QuotaType: "emails"}))
	assert.False(t, Filter{QuotaType: "emails"}.Match(LiveEvent{QuotaType: "api_calls"}))
}

func TestSlowSubscriberCountsDrops(t *testing.T) {
	hub := NewHub()
	subj := subject.User(5)
	sub, _, err := hub.Subscribe(subj, Filter{})
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultSubscriberBuffer+3; i++ {
		hub.Publish(subj, LiveEvent{Quantity: int64(i)})
	}
	assert.Equal(t, int64(3), sub.Dropped())
}

func TestBacklogIsBounded(t *testing.T) {
	hub := NewHub()
	subj := subject.User(6)
	sub, _, err := hub.Subscribe(subj, Filter{})
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultBacklogSize+10; i++ {
		hub.Publish(subj, LiveEvent{Quantity: int64(i)})
	}

	late, backlog, err := hub.Subscribe(subj, Filter{})
	require.NoError(t, err)
	defer late.Close()
	require.Len(t, backlog, DefaultBacklogSize)
	assert.Equal(t, int64(10), backlog[0].Quantity)
}

func TestCloseRemovesEmptyTopic(t *testing.T) {
	hub := NewHub()
	subj := subject.User(3)
	sub, _, err := hub.Subscribe(subj, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Watching(subj))

	sub.Close()
	sub.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Zero(t, hub.Watching(subj))
	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Empty(t, hub.topics)
}

func TestSubscribeRejectsInvalidSubject(t *testing.T) {
	_, _, err := NewHub().Subscribe(subject.Subject{}, Filter{})
	assert.ErrorIs(t, err, subject.ErrInvalidSubject)

	var hub *Hub
	_, _, err = hub.Subscribe(subject.User(1), Filter{})
	assert.ErrorIs(t, err, ErrHubUnavailable)
}
