package utils

import (
	"context"
	"time"
)

// Session ties a lifetime to a cancellable context and remembers when it
// began. Embed it to give a long-lived object a Ctx, a Cancel, and an age.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
}

func NewSession(parent context.Context) Session {
	ctx, cancel := context.WithCancel(parent)
	return Session{
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}
}

func (s *Session) Ctx() context.Context {
	return s.ctx
}

func (s *Session) Started() time.Time {
	return s.started
}

// IsDone reports whether the session has been cancelled, directly or via
// its parent.
func (s *Session) IsDone() bool {
	return s.ctx.Err() != nil
}

func (s *Session) Cancel() {
	s.cancel()
}
