package busline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReplyCallback is invoked exactly once per request: with the final
// reply when all expected replies have arrived, or with a nil message
// and ErrRequestTimedOut when the timeout elapses first.
type ReplyCallback func(reply Message, err error)

// PendingRequest is the handle for one locally-issued request awaiting
// replies. It is created by Register and destroyed when all expected
// replies arrive or the timeout elapses.
type PendingRequest struct {
	c        *Correlator
	token    string
	expected int
	received int
	replies  []Message
	callback ReplyCallback
	done     chan struct{}
	timer    *time.Timer
	timedOut bool
}

// Token returns the request correlation token.
func (r *PendingRequest) Token() string {
	return r.token
}

// Wait blocks until all expected replies arrive or the timeout fires.
// On timeout it fails with ErrRequestTimedOut; late replies are ignored.
func (r *PendingRequest) Wait() ([]Message, error) {
	<-r.done

	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if r.timedOut {
		return nil, &RequestTimeoutError{
			Token:    r.token,
			Expected: r.expected,
			Received: r.received,
		}
	}
	return append([]Message(nil), r.replies...), nil
}

// Done returns a channel closed when the request resolves or times out.
func (r *PendingRequest) Done() <-chan struct{} {
	return r.done
}

// Correlator tracks locally-issued requests awaiting one or more
// replies, matches replies by their embedded correlation token, and
// enforces timeouts. State is local to one worker process and guarded
// by a lightweight mutex.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*PendingRequest
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]*PendingRequest),
	}
}

// NewToken generates a request correlation token.
func NewToken() string {
	return uuid.NewString()
}

// Register stores a pending request for the token. For blocking waits
// pass a nil callback and use the returned handle's Wait; for
// callback-style requests the callback fires once when all expected
// replies have arrived. The entry is removed when the request resolves
// or the timeout elapses, whichever comes first; it never leaks.
func (c *Correlator) Register(token string, expected int, timeout time.Duration, callback ReplyCallback) *PendingRequest {
	if expected <= 0 {
		expected = 1
	}

	req := &PendingRequest{
		c:        c,
		token:    token,
		expected: expected,
		callback: callback,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.pending[token] = req
	c.mu.Unlock()

	if timeout > 0 {
		req.timer = time.AfterFunc(timeout, func() {
			c.expire(token)
		})
	}

	return req
}

// HandleReply delivers a reply to its pending request. Replies carrying
// an unknown or already-resolved token are ignored. Returns true if the
// reply was matched.
func (c *Correlator) HandleReply(reply Message, token string) bool {
	c.mu.Lock()
	req, ok := c.pending[token]
	if !ok {
		c.mu.Unlock()
		return false
	}

	req.received++
	req.replies = append(req.replies, reply)
	complete := req.received >= req.expected
	if complete {
		delete(c.pending, token)
		if req.timer != nil {
			req.timer.Stop()
		}
	}
	callback := req.callback
	c.mu.Unlock()

	if complete {
		if callback != nil {
			callback(reply, nil)
		}
		close(req.done)
	}
	return true
}

// Cancel removes a pending request without resolving it.
func (c *Correlator) Cancel(token string) {
	c.mu.Lock()
	req, ok := c.pending[token]
	if ok {
		delete(c.pending, token)
		if req.timer != nil {
			req.timer.Stop()
		}
	}
	c.mu.Unlock()
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// expire resolves a request as timed out; the callback variant is
// notified exactly once and the entry never leaks.
func (c *Correlator) expire(token string) {
	c.mu.Lock()
	req, ok := c.pending[token]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, token)
	req.timedOut = true
	callback := req.callback
	received := req.received
	expected := req.expected
	c.mu.Unlock()

	if callback != nil {
		callback(nil, &RequestTimeoutError{
			Token:    token,
			Expected: expected,
			Received: received,
		})
	}
	close(req.done)
}
