package clip

import (
	"context"
	"errors"
	"sync/atomic"
)

// slot is one session guarded by a channel lock so waiting can observe
// cancellation.
type slot struct {
	lock chan struct{}
	sess Session
}

// sessionPool hands out sessions round-robin.
type sessionPool struct {
	slots  []*slot
	next   atomic.Uint64
	closed atomic.Bool
}

func newSessionPool(sessions []Session) *sessionPool {
	p := &sessionPool{slots: make([]*slot, len(sessions))}
	for i, s := range sessions {
		p.slots[i] = &slot{lock: make(chan struct{}, 1), sess: s}
	}
	return p
}

func (p *sessionPool) size() int { return len(p.slots) }

// acquire picks the next slot and waits for its lock.
func (p *sessionPool) acquire(ctx context.Context) (*slot, error) {
	if len(p.slots) == 0 || p.closed.Load() {
		return nil, ErrNoSession
	}
	idx := (p.next.Add(1) - 1) % uint64(len(p.slots))
	s := p.slots[idx]
	select {
	case s.lock <- struct{}{}:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slot) release() { <-s.lock }

// close waits for every in-flight run and closes the sessions.
func (p *sessionPool) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, s := range p.slots {
		s.lock <- struct{}{}
		if err := s.sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
