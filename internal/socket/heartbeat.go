package socket

import (
	"context"
	"fmt"
	"time"

	"github.com/teamwork/chat-go/internal/frame"
)

// heartbeatLoop probes liveness once the session is connected. Each round
// sends a ping as a nonced request and waits up to PingTimeout for the pong;
// failed rounds retry immediately, and after PingMaxAttempts consecutive
// failures the connection is declared broken and closed. The ctx is cancelled
// by close, which also aborts an in-flight ping.
func (s *Session) heartbeatLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.PingInterval):
		}

		if s.pingRound(ctx) {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		s.log.Warn().Int("attempts", s.cfg.PingMaxAttempts).Msg("heartbeat lost, closing")
		s.close(&CloseError{
			Code:   CodeLivenessLost,
			Reason: fmt.Sprintf("no pong after %d attempts", s.cfg.PingMaxAttempts),
		})
		return
	}
}

func (s *Session) pingRound(ctx context.Context) bool {
	for attempt := 1; attempt <= s.cfg.PingMaxAttempts; attempt++ {
		_, err := s.Request(ctx, frame.NamePing, nil, s.cfg.PingTimeout)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return true
		}
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("ping unanswered")
	}
	return false
}
