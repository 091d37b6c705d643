package mcp

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is the terminal result of one correlated request: either a raw
// result payload or an error, never both.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// pendingRequest tracks one in-flight request until it is resolved by a
// matching response, a timeout, or channel closure.
type pendingRequest struct {
	id       int64
	issuedAt time.Time
	ch       chan Outcome
	timer    *time.Timer
}

// Correlator assigns request identifiers and matches responses back to
// the request that caused them. Each channel owns exactly one Correlator.
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[int64]*pendingRequest),
	}
}

// NextID returns a fresh positive id, strictly greater than every id
// previously issued by this correlator.
func (c *Correlator) NextID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

// Register records a pending request and returns the channel its outcome
// will be delivered on. If timeout is positive, the request is rejected
// with ErrTimeout when it expires; a response arriving after that is
// dropped as unknown.
func (c *Correlator) Register(id int64, timeout time.Duration) <-chan Outcome {
	p := &pendingRequest{
		id:       id,
		issuedAt: time.Now(),
		ch:       make(chan Outcome, 1),
	}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			c.Reject(id, ErrTimeout)
		})
	}

	return p.ch
}

// Resolve fulfills the pending request with a result payload. Late,
// duplicate, or unknown ids are silently dropped.
func (c *Correlator) Resolve(id int64, payload json.RawMessage) {
	if p := c.take(id); p != nil {
		p.ch <- Outcome{Result: payload}
	}
}

// Reject fulfills the pending request with an error. Late, duplicate, or
// unknown ids are silently dropped.
func (c *Correlator) Reject(id int64, err error) {
	if p := c.take(id); p != nil {
		p.ch <- Outcome{Err: err}
	}
}

// RejectAll fails every outstanding request. Called when the owning
// channel closes so no awaiting caller hangs forever.
func (c *Correlator) RejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- Outcome{Err: err}
	}
}

// PendingCount reports the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the pending entry for id. Removal under the
// lock is what guarantees exactly-once completion: whichever of response,
// timeout, or closure gets here first wins, the rest see nil.
func (c *Correlator) take(id int64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)

	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}
