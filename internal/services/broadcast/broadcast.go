// Package broadcast relays one message to a set of chats, counting successes
// and failures independently per target.
package broadcast

import (
	"context"

	"golang.org/x/time/rate"

	"invitebot/internal/transport"
	"invitebot/pkg/logx"
)

type Config struct {
	RatePerSec int
}

// Tally is the per-invocation result. One target's failure never aborts the
// remaining targets.
type Tally struct {
	Success int
	Failed  int
}

func (t Tally) Total() int { return t.Success + t.Failed }

type Service struct {
	adapter transport.Adapter
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Service {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &Service{
		adapter: adapter,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Forward relays (fromChatID, messageID) to each target in order.
func (s *Service) Forward(ctx context.Context, fromChatID int64, messageID int, targets []transport.ChatTarget) Tally {
	var tally Tally
	for _, t := range targets {
		if err := s.limiter.Wait(ctx); err != nil {
			// Context gone: count the rest as failed and stop.
			tally.Failed += len(targets) - tally.Total()
			break
		}
		if err := s.adapter.ForwardMessage(ctx, t, fromChatID, messageID); err != nil {
			tally.Failed++
			s.log.Warn("broadcast forward failed", logx.Int64("chat_id", t.ChatID), logx.Err(err))
			continue
		}
		tally.Success++
	}
	s.log.Info("broadcast finished",
		logx.Int("total", tally.Total()),
		logx.Int("success", tally.Success),
		logx.Int("failed", tally.Failed),
	)
	return tally
}
