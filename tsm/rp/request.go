package rp

import (
	"sync"
	"time"
)

// Receipt is the unique id of a request.
type Receipt string

// request describes a request for tokens tied to a particular Protector.
type request struct {
	id          Receipt
	numTokens   int
	grantedCh   chan bool
	releaseCh   chan bool
	touchCh     chan bool
	autoRelease time.Duration
	active      bool
	done        bool
	mu          sync.Mutex
}

// waitUntilGranted blocks until the Protector that created us sends on our
// grantedCh. Returns false if already granted or finished().
func (r *request) waitUntilGranted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active || r.done {
		return false
	}
	r.active = true
	<-r.grantedCh
	return true
}

// touch sends on our touchCh, read by the Protector that granted our
// tokens, to stop it timing out and auto-releasing.
func (r *request) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.done {
		return
	}
	r.touchCh <- true
}

// release sends on our releaseCh, read by the Protector that granted our
// tokens, then marks us finished.
func (r *request) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.done {
		return
	}
	r.done = true
	r.releaseCh <- true
}

// finished stops the other methods from doing anything further.
func (r *request) finished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
}
