package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, c *Client) FrameMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg FrameMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return FrameMessage{}
	}
}

func TestBroadcastReachesSubscribersOnly(t *testing.T) {
	h := newTestHub(t)
	a, b := NewClient("a", 4), NewClient("b", 4)
	h.Register(a)
	h.Register(b)
	h.Subscribe(a, []string{"v1"})
	h.Subscribe(b, []string{"v2"})

	h.Broadcast([]Frame{{View: "v1", ANSI: "x", Width: 2, Height: 1}})

	msg := receive(t, a)
	assert.Equal(t, "frame", msg.Type)
	assert.Equal(t, "v1", msg.Payload.View)
	assert.Equal(t, "x", msg.Payload.ANSI)
	assert.Equal(t, 2, msg.Payload.Width)

	select {
	case <-b.Send:
		t.Fatal("b is not subscribed to v1")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribersAndViews(t *testing.T) {
	h := newTestHub(t)
	a, b := NewClient("a", 1), NewClient("b", 1)
	h.Subscribe(a, []string{"v1", "v2"})
	h.Subscribe(b, []string{"v1"})

	assert.Equal(t, 2, h.Subscribers("v1"))
	assert.ElementsMatch(t, []string{"v1", "v2"}, h.Views())

	h.Unsubscribe(a, []string{"v2"})
	assert.Equal(t, 0, h.Subscribers("v2"))
	assert.False(t, a.HasView("v2"))
	assert.True(t, a.HasView("v1"))
	assert.ElementsMatch(t, []string{"v1"}, h.Views())
}

func TestUnregisterClosesClient(t *testing.T) {
	h := newTestHub(t)
	c := NewClient("c", 1)
	require.True(t, h.Register(c))
	h.Subscribe(c, []string{"v1"})

	h.Unregister(c)

	assert.True(t, c.Closed())
	assert.Equal(t, 0, h.Subscribers("v1"))
	assert.Equal(t, 0, h.ClientCount())
	assert.False(t, c.Enqueue([]byte("x")))
}

func TestRegisterAfterUnregisterIsRefused(t *testing.T) {
	h := newTestHub(t)
	c := NewClient("c", 1)

	h.Unregister(c)
	assert.False(t, h.Register(c))
	h.Subscribe(c, []string{"v1"})

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.Subscribers("v1"))
	assert.Empty(t, h.Views())
}

func TestRegisterAndUnregisterFromManyGoroutines(t *testing.T) {
	h := newTestHub(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient("c", 1)
			h.Register(c)
			h.Subscribe(c, []string{"v1"})
			h.Unregister(c)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.Subscribers("v1"))
}

func TestShutdownClosesClientsWithoutPanickingSenders(t *testing.T) {
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := NewClient("c", 1)
	require.True(t, h.Register(c))
	h.Subscribe(c, []string{"v1"})

	sending := make(chan struct{})
	go func() {
		defer close(sending)
		for i := 0; i < 1000; i++ {
			c.Enqueue([]byte("x"))
			h.SendFrame(c, Frame{View: "v1"})
			select {
			case <-c.Send:
			default:
			}
		}
	}()

	cancel()
	<-stopped
	<-sending

	select {
	case <-c.Done():
	default:
		t.Fatal("client not closed on shutdown")
	}
	assert.False(t, c.Enqueue([]byte("late")))
	assert.False(t, h.Register(NewClient("late", 1)), "a stopped hub refuses new clients")
}

func TestSendFrameDropsWhenBufferFull(t *testing.T) {
	h := newTestHub(t)
	c := NewClient("c", 1)

	h.SendFrame(c, Frame{View: "v1", ANSI: "first"})
	h.SendFrame(c, Frame{View: "v1", ANSI: "second"})

	msg := receive(t, c)
	assert.Equal(t, "first", msg.Payload.ANSI)
	assert.Empty(t, c.Send)
}
