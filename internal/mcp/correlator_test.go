package mcp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_NextID_Monotonic(t *testing.T) {
	c := NewCorrelator()

	prev := int64(0)
	for i := 0; i < 100; i++ {
		id := c.NextID()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestCorrelator_ResolveDeliversPayload(t *testing.T) {
	c := NewCorrelator()

	id := c.NextID()
	ch := c.Register(id, 0)

	payload := json.RawMessage(`{"ok":true}`)
	c.Resolve(id, payload)

	out := <-ch
	require.NoError(t, out.Err)
	assert.JSONEq(t, `{"ok":true}`, string(out.Result))
	assert.Zero(t, c.PendingCount())
}

func TestCorrelator_RejectDeliversError(t *testing.T) {
	c := NewCorrelator()

	id := c.NextID()
	ch := c.Register(id, 0)

	c.Reject(id, ErrTransport)

	out := <-ch
	assert.ErrorIs(t, out.Err, ErrTransport)
}

func TestCorrelator_UnknownIDDropped(t *testing.T) {
	c := NewCorrelator()

	// Must not panic or block.
	c.Resolve(42, json.RawMessage(`{}`))
	c.Reject(42, ErrTransport)
	assert.Zero(t, c.PendingCount())
}

func TestCorrelator_TimeoutFiresExactlyOnce(t *testing.T) {
	c := NewCorrelator()

	id := c.NextID()
	ch := c.Register(id, 20*time.Millisecond)

	select {
	case out := <-ch:
		assert.ErrorIs(t, out.Err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// A late response after the timeout is dropped per the unknown-id
	// rule; the outcome channel must not receive a second value.
	c.Resolve(id, json.RawMessage(`{"late":true}`))

	select {
	case <-ch:
		t.Fatal("late response delivered after timeout")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCorrelator_ResponseBeatsTimeout(t *testing.T) {
	c := NewCorrelator()

	id := c.NextID()
	ch := c.Register(id, time.Second)

	c.Resolve(id, json.RawMessage(`{}`))

	out := <-ch
	require.NoError(t, out.Err)

	// The timer was stopped; nothing else arrives.
	select {
	case <-ch:
		t.Fatal("second outcome delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCorrelator_RejectAll(t *testing.T) {
	c := NewCorrelator()

	var chans []<-chan Outcome
	for i := 0; i < 5; i++ {
		id := c.NextID()
		chans = append(chans, c.Register(id, time.Minute))
	}
	require.Equal(t, 5, c.PendingCount())

	c.RejectAll(ErrTransport)

	for _, ch := range chans {
		out := <-ch
		assert.ErrorIs(t, out.Err, ErrTransport)
	}
	assert.Zero(t, c.PendingCount())
}

func TestCorrelator_ConcurrentRequests(t *testing.T) {
	c := NewCorrelator()

	type pair struct {
		id int64
		ch <-chan Outcome
	}
	var pairs []pair
	for i := 0; i < 50; i++ {
		id := c.NextID()
		pairs = append(pairs, pair{id, c.Register(id, time.Minute)})
	}

	// Resolve out of order.
	for i := len(pairs) - 1; i >= 0; i-- {
		c.Resolve(pairs[i].id, json.RawMessage(`{}`))
	}

	for _, p := range pairs {
		out := <-p.ch
		assert.NoError(t, out.Err)
	}
}
