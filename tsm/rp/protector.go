// Package rp implements a generic token-bucket admission controller:
// callers Request() a number of tokens, WaitUntilGranted(), use the
// protected resource, then Release(). It's used by the local scheduler
// (tsm/scheduler) to bound how many replica processes may be spawning
// concurrently, so a large application submission doesn't fork-bomb the
// host.
package rp

import (
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Protector grants tokens for a particular resource when it has capacity.
type Protector struct {
	Name           string // Name of the resource being protected.
	maxTokens      int
	usedTokens     int
	delayBetween   time.Duration
	releaseTimeout time.Duration
	requests       map[Receipt]*request
	pending        []*request
	lastProcess    time.Time
	reprocessing   bool
	availabilityCb AvailabilityCallback
	mu             sync.RWMutex
}

// New creates a new Protector. name is for your benefit, describing the
// resource being protected.
//
// delayBetween is the minimum delay between granting tokens on successive
// Request()s, to avoid spamming the resource with too high a frequency of
// accesses.
//
// maxSimultaneous is the maximum number of tokens that may be in use
// concurrently.
//
// releaseTimeout is how long granted tokens stay held if the receiver
// never Touch()es or Release()s them, so a caller that starts using
// tokens then dies doesn't hold them forever.
func New(name string, delayBetween time.Duration, maxSimultaneous int, releaseTimeout time.Duration) *Protector {
	return &Protector{
		Name:           name,
		maxTokens:      maxSimultaneous,
		delayBetween:   delayBetween,
		releaseTimeout: releaseTimeout,
		requests:       make(map[Receipt]*request),
	}
}

// AvailabilityCallback reports how many tokens are currently available.
type AvailabilityCallback func() (numTokens int)

// SetAvailabilityCallback sets a callback consulted whenever the Protector
// checks whether pending Request()s can be fulfilled. It's only called at
// most every delayBetween; do your own caching if checking is expensive.
func (p *Protector) SetAvailabilityCallback(callback AvailabilityCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availabilityCb = callback
}

// Request asks that a desired number of tokens be granted for use.
//
// You immediately get back a Receipt: pass it to WaitUntilGranted(), then
// to Touch() periodically while using the resource, then to Release().
//
// An optional autoRelease duration causes Release() to happen for you
// after that much time (you'd still need to Touch() if this is shorter
// than the releaseTimeout given to New()).
func (p *Protector) Request(numTokens int, autoRelease ...time.Duration) (Receipt, error) {
	if numTokens > p.maxTokens {
		return Receipt(""), Error{p.Name, "Request", Receipt(""), ErrOverMaximumTokens}
	}

	r := &request{
		id:        Receipt(uuid.NewV4().String()),
		grantedCh: make(chan bool, 1),
		releaseCh: make(chan bool, 1),
		touchCh:   make(chan bool, 1),
		numTokens: numTokens,
	}
	if len(autoRelease) == 1 {
		r.autoRelease = autoRelease[0]
	} else {
		r.autoRelease = 8760 * time.Hour // default to a year
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, r)
	p.requests[r.id] = r
	if p.lastProcess.IsZero() && len(p.pending) == 1 {
		go p.process()
	} else {
		go p.reprocess()
	}
	return r.id, nil
}

// WaitUntilGranted blocks until the request for receipt has been granted
// its tokens. If called after releaseTimeout has elapsed since the
// Request(), the request will already have been released and this
// returns false: don't use the resource in that case. Also returns false
// for an unknown receipt.
func (p *Protector) WaitUntilGranted(receipt Receipt) bool {
	p.mu.RLock()
	r, found := p.requests[receipt]
	p.mu.RUnlock()
	if found {
		return r.waitUntilGranted()
	}
	return false
}

// Touch prevents receipt's request from timing out and releasing its
// tokens. Call this periodically after WaitUntilGranted().
func (p *Protector) Touch(receipt Receipt) {
	p.mu.RLock()
	r, found := p.requests[receipt]
	p.mu.RUnlock()
	if found {
		r.touch()
	}
}

// Release returns receipt's tokens for use by other requests. Always call
// this when done using the resource, unless autoRelease was specified.
func (p *Protector) Release(receipt Receipt) {
	p.mu.RLock()
	r, found := p.requests[receipt]
	p.mu.RUnlock()
	if found {
		r.release()
	}
}

// process takes the oldest queued Request() and, if it can be fulfilled,
// grants it the tokens it wants, scheduling cleanup via reprocess().
func (p *Protector) process() {
	p.mu.Lock()
	defer p.mu.Unlock()
	pendingLen := len(p.pending)
	if p.usedTokens == p.maxTokens || pendingLen == 0 {
		return
	}
	availableTokens, checked := p.availableTokens()
	r := p.pending[0]
	if checked && availableTokens < r.numTokens {
		// more resources could turn up later, outside our control and
		// knowledge, so retry after the standard delay.
		p.lastProcess = time.Now()
		go p.reprocess()
		return
	}
	if r.numTokens > 1 && p.maxTokens-p.usedTokens < r.numTokens {
		return
	}

	p.pending = p.pending[1:]
	p.usedTokens += r.numTokens
	p.lastProcess = time.Now()
	r.grantedCh <- true

	go func() {
		auto := time.After(r.autoRelease)
		for {
			limit := time.After(p.releaseTimeout)
			select {
			case <-r.releaseCh:
			case <-limit:
				r.finished()
			case <-auto:
				r.finished()
			case <-r.touchCh:
				continue
			}

			p.mu.Lock()
			p.usedTokens -= r.numTokens
			delete(p.requests, r.id)
			if len(p.pending) > 0 {
				p.mu.Unlock()
				p.reprocess()
			} else {
				p.mu.Unlock()
			}
			break
		}
	}()

	if pendingLen > 1 {
		go p.reprocess()
	}
}

// reprocess calls process() after at least delayBetween, coalescing
// reprocess calls made during that wait.
func (p *Protector) reprocess() {
	p.mu.Lock()
	if p.reprocessing {
		p.mu.Unlock()
		return
	}
	p.reprocessing = true
	since := time.Since(p.lastProcess)

	if since < p.delayBetween {
		remaining := p.delayBetween - since
		p.mu.Unlock()
		<-time.After(remaining)
		p.mu.Lock()
	}

	p.reprocessing = false
	p.mu.Unlock()
	p.process()
}

// availableTokens runs the availability callback, never returning more
// than maxTokens. The bool reports whether a callback was set at all.
func (p *Protector) availableTokens() (int, bool) {
	if p.availabilityCb != nil {
		availableTokens := p.availabilityCb()
		if availableTokens > p.maxTokens {
			availableTokens = p.maxTokens
		}
		return availableTokens, true
	}
	return 0, false
}
