// Package janitor closes conversations that have gone idle, so the next
// inbound message from those customers starts a fresh conversation.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/conversation"
)

// Service runs the idle-conversation sweep on a cron schedule.
type Service struct {
	logger        *slog.Logger
	conversations *conversation.Service
	schedule      string
	idleAfter     time.Duration
	cron          *cron.Cron
}

// NewService creates a janitor from config.
func NewService(log *slog.Logger, conversations *conversation.Service, cfg config.JanitorConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:        log.With(slog.String("service", "janitor")),
		conversations: conversations,
		schedule:      cfg.Schedule,
		idleAfter:     cfg.IdleAfter(),
		cron:          cron.New(),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("idle sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("register janitor schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("janitor started",
		slog.String("schedule", s.schedule),
		slog.Duration("idle_after", s.idleAfter),
	)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Service) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep closes every active conversation idle for longer than the window.
func (s *Service) Sweep(ctx context.Context) error {
	closed, err := s.conversations.CloseIdle(ctx, s.idleAfter)
	if err != nil {
		return err
	}
	if closed > 0 {
		s.logger.Info("closed idle conversations", slog.Int("count", closed))
	}
	return nil
}
