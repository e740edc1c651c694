package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_FanOut(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(4)
	b := hub.Subscribe(4)

	hub.Publish(Event{Type: TypeProgress, Data: ProgressData{AutomationID: 7, Step: "extracting_data", Progress: 35}})

	for _, sub := range []*Subscription{a, b} {
		select {
		case evt := <-sub.C():
			assert.Equal(t, TypeProgress, evt.Type)
			assert.False(t, evt.Timestamp.IsZero())
			data, ok := evt.Data.(ProgressData)
			require.True(t, ok)
			assert.Equal(t, 35, data.Progress)
		default:
			t.Fatal("expected an event")
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe(1)
	fast := hub.Subscribe(8)

	for i := 0; i < 5; i++ {
		hub.Publish(Event{Type: TypeLog, Data: i})
	}

	assert.Len(t, slow.C(), 1)
	assert.Len(t, fast.C(), 5)

	stats := hub.Stats()
	assert.Equal(t, 2, stats.Subscribers)
	assert.Equal(t, int64(5), stats.Published)
	assert.Equal(t, int64(4), stats.Dropped)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(1)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, open := <-sub.C()
	assert.False(t, open)

	hub.Publish(Event{Type: TypeStatus})
	assert.Equal(t, 0, hub.Stats().Subscribers)
}

func TestHub_NoReplay(t *testing.T) {
	hub := NewHub()
	hub.Publish(Event{Type: TypeLog, Data: "before"})

	sub := hub.Subscribe(2)
	assert.Len(t, sub.C(), 0)
}
