package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"personal/discord_gateway/src/gateway"
	"personal/discord_gateway/src/opcodes"
)

// ResumeURL is the resume_gateway_url the Server hands out.
const ResumeURL = "wss://resume.gateway.test"

// Server plays the gateway against a Transport forever. Every
// connection gets Hello; Identify gets READY, Resume gets the last
// dispatch again (a duplicate the shard must drop) followed by RESUMED.
// Either way the script is played with increasing sequence numbers and
// the cycle ends with Reconnect. Heartbeats are acknowledged.
//
// Server consumes the transport's Connects and Sent streams, so tests
// using it must not read them.
type Server struct {
	t        *Transport
	interval time.Duration
	script   []string

	sessionID string
	sessions  int
	seq       int64

	cycles      atomic.Int64
	identifies  atomic.Int64
	resumes     atomic.Int64
	invalidated atomic.Int64
}

// NewServer returns a server that dispatches events, in order, on every
// cycle.
func NewServer(t *Transport, heartbeatInterval time.Duration, events ...string) *Server {
	if len(events) == 0 {
		events = []string{"MESSAGE_CREATE"}
	}
	return &Server{t: t, interval: heartbeatInterval, script: events}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.t.connects:
			s.cycles.Add(1)
			s.t.Push(Hello(s.interval))
		case p := <-s.t.sent:
			s.handle(p)
		}
	}
}

// Cycles is the number of connections served.
func (s *Server) Cycles() int64 { return s.cycles.Load() }

// Identifies is the number of Identify payloads answered.
func (s *Server) Identifies() int64 { return s.identifies.Load() }

// Resumes is the number of successful resumes.
func (s *Server) Resumes() int64 { return s.resumes.Load() }

// Invalidated is the number of Resume attempts rejected.
func (s *Server) Invalidated() int64 { return s.invalidated.Load() }

func (s *Server) handle(p gateway.Payload) {
	switch p.Op {
	case opcodes.Heartbeat:
		s.t.Push(Op(opcodes.HeartbeatACK))

	case opcodes.Identify:
		s.identifies.Add(1)
		s.sessions++
		s.sessionID = fmt.Sprintf("session-%d", s.sessions)
		s.seq = 1
		s.t.Push(Ready(s.seq, s.sessionID, ResumeURL))
		s.play()

	case opcodes.Resume:
		var d gateway.ResumeData
		if err := json.Unmarshal(p.D, &d); err != nil || d.SessionID != s.sessionID || d.Sequence != s.seq {
			s.invalidated.Add(1)
			s.t.Push(InvalidSession(false))
			return
		}
		s.resumes.Add(1)
		s.t.Push(Dispatch(s.script[len(s.script)-1], s.seq, map[string]int64{"seq": s.seq}))
		s.seq++
		s.t.Push(Resumed(s.seq))
		s.play()
	}
}

func (s *Server) play() {
	for _, event := range s.script {
		s.seq++
		s.t.Push(Dispatch(event, s.seq, map[string]int64{"seq": s.seq}))
	}
	s.t.Push(Op(opcodes.Reconnect))
}
