package gateway

import (
	"context"
	"time"
)

// Session is what a connection needs to resume after a drop.
type Session struct {
	ID                string
	Sequence          int64
	ResumeURL         string
	HeartbeatInterval time.Duration
}

// Resumable reports whether the session carries enough to send Resume.
func (s Session) Resumable() bool {
	return s.ID != "" && s.Sequence > 0
}

// SessionStore persists sessions across process restarts so a shard can
// try Resume before its first Identify.
type SessionStore interface {
	LoadSession(ctx context.Context, shardID int) (Session, bool, error)
	SaveSession(ctx context.Context, shardID int, sess Session) error
	DeleteSession(ctx context.Context, shardID int) error
}
