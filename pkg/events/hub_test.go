package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	h := NewHub(zap.NewNop(), nil)
	all := h.Subscribe("")
	mine := h.Subscribe("user1")
	other := h.Subscribe("user2")
	defer h.Unsubscribe(all)
	defer h.Unsubscribe(mine)
	defer h.Unsubscribe(other)

	h.Publish(context.Background(), Event{AccountID: "user1", Chain: "ethereum", Text: "swept"})

	select {
	case ev := <-mine.C:
		assert.Equal(t, "swept", ev.Text)
		assert.False(t, ev.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("account subscriber did not receive event")
	}
	select {
	case <-all.C:
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber did not receive event")
	}
	select {
	case <-other.C:
		t.Fatal("unrelated account must not receive the event")
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(zap.NewNop(), nil)
	s := h.Subscribe("")
	defer h.Unsubscribe(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < cap(s.C)+10; i++ {
			h.Publish(context.Background(), Event{AccountID: "u", Text: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, cap(s.C), len(s.C), "buffer full, overflow dropped")
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(zap.NewNop(), nil)
	s := h.Subscribe("user1")
	require.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(s)
	_, open := <-s.C
	assert.False(t, open)
	assert.Equal(t, 0, h.SubscriberCount())

	// Double unsubscribe is safe.
	h.Unsubscribe(s)
}

func TestNotifyFuncCarriesAccountAndChain(t *testing.T) {
	h := NewHub(zap.NewNop(), nil)
	s := h.Subscribe("user1")
	defer h.Unsubscribe(s)

	notify := h.NotifyFunc(context.Background(), "user1", "bsc")
	notify("Sweep started")

	select {
	case ev := <-s.C:
		assert.Equal(t, "user1", ev.AccountID)
		assert.Equal(t, "bsc", ev.Chain)
		assert.Equal(t, "Sweep started", ev.Text)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}
