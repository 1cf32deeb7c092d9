package model

import (
	"github.com/pingcap/errors"
	"go.uber.org/multierr"
)

// Scope owns the tensors created for one inference call and releases each
// of them exactly once.
type Scope struct {
	tensors  []Tensor
	tracked  map[Tensor]struct{}
	released bool
	metrics  *Metrics
}

// NewScope returns an empty scope. metrics may be nil.
func NewScope(metrics *Metrics) *Scope {
	return &Scope{
		tracked: make(map[Tensor]struct{}),
		metrics: metrics,
	}
}

// Track adds t to the scope. Tracking a tensor twice has no effect. A tensor
// tracked after Release is released immediately.
func (s *Scope) Track(t Tensor) error {
	if t == nil {
		return nil
	}
	if _, ok := s.tracked[t]; ok {
		return nil
	}
	s.tracked[t] = struct{}{}
	if s.released {
		return errors.Trace(t.Release())
	}
	s.tensors = append(s.tensors, t)
	s.metrics.tensorAcquired()
	return nil
}

// TrackAll adds every tensor of m to the scope.
func (s *Scope) TrackAll(m map[string]Tensor) error {
	var err error
	for _, t := range m {
		err = multierr.Append(err, s.Track(t))
	}
	return err
}

// Len returns the number of tensors still held.
func (s *Scope) Len() int {
	return len(s.tensors)
}

// Release releases every tracked tensor. Release failures do not stop the
// remaining tensors from being released; they are combined into the
// returned error. Calling Release again is a no-op.
func (s *Scope) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	var err error
	for _, t := range s.tensors {
		if rerr := t.Release(); rerr != nil {
			err = multierr.Append(err, errors.Trace(rerr))
		}
		s.metrics.tensorReleased()
	}
	s.tensors = nil
	return err
}
