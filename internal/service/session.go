// internal/service/session.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"can-bridge-service/internal/model"
	"can-bridge-service/pkg/driver"
)

// Session is one open bridge connection with its live snapshot.
// Operations against a session are serialized through slot.
type Session struct {
	driver driver.BridgeDriver
	slot   chan struct{}

	mu        sync.RWMutex
	info      model.SessionInfo
	snapshot  *model.Snapshot
	currentOp uuid.UUID
}

func newSession(info model.SessionInfo, drv driver.BridgeDriver, snapshot *model.Snapshot) *Session {
	return &Session{
		driver:   drv,
		slot:     make(chan struct{}, 1),
		info:     info,
		snapshot: snapshot,
	}
}

// acquire takes the operation slot or fails when ctx ends first
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return model.ErrSessionBusy
	}
}

func (s *Session) release() {
	<-s.slot
}

// Info returns a copy of the public session view
func (s *Session) Info() *model.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	return &info
}

// Snapshot returns a copy of the live snapshot
func (s *Session) Snapshot() *model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

func (s *Session) setSnapshot(snapshot *model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
}

// updateSnapshot mutates the live snapshot under the lock
func (s *Session) updateSnapshot(fn func(*model.Snapshot) error) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.snapshot.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.snapshot = working
	return working.Clone(), nil
}

func (s *Session) setStatus(status model.SessionStatus) model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.info.Status
	s.info.Status = status
	return old
}

func (s *Session) status() model.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Status
}

func (s *Session) setModeState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.ModeState = state
}

func (s *Session) beginOperation(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentOp = id
	s.info.Status = model.SessionStatusBusy
}

// endOperation records the outcome; a channel failure leaves the session stale
func (s *Session) endOperation(err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentOp = uuid.Nil
	s.info.LastOperationAt = &now
	s.info.LastError = nil
	if err != nil {
		msg := err.Error()
		s.info.LastError = &msg
	}

	switch {
	case model.KindOf(err) == model.KindChannelIO:
		s.info.Status = model.SessionStatusStale
	case s.info.Status == model.SessionStatusBusy:
		s.info.Status = model.SessionStatusConnected
	}
}

func (s *Session) operationID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentOp
}
