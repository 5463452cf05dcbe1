// Package chat is a message-type filter over the signaling manager:
// only CHAT_MESSAGE payloads reach chat UI. Delivery is at-most-once
// in transport order per sender; a dropped or duplicated message is an
// accepted failure mode. History lives behind a REST collaborator so a
// transport outage never blocks historical reads.
package chat

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/domain"
	"github.com/lumastream/signalcore/internal/signaling"
)

var ErrEmptyMessage = errors.New("chat message empty")

type Service struct {
	mgr       *signaling.Manager
	name      string
	isCreator bool
	clk       clock.Clock
	logger    zerolog.Logger
}

type Option func(*Service)

func WithClock(clk clock.Clock) Option {
	return func(s *Service) { s.clk = clk }
}

func NewService(mgr *signaling.Manager, displayName string, isCreator bool, opts ...Option) *Service {
	s := &Service{
		mgr:       mgr,
		name:      displayName,
		isCreator: isCreator,
		clk:       clock.New(),
		logger:    log.With().Str("module", "chat").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe observes inbound chat. Returns the cancel func.
func (s *Service) Subscribe(fn func(domain.ChatPayload)) func() {
	return s.mgr.OnChatMessage(fn)
}

func (s *Service) Send(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	identity := s.mgr.Identity()
	msg := domain.SignalingMessage{
		Type: domain.MessageChat,
		Chat: &domain.ChatPayload{
			UserID:    identity.UserID,
			Username:  s.name,
			Message:   text,
			Timestamp: s.clk.Now().UnixMilli(),
			IsCreator: s.isCreator,
		},
	}
	if err := s.mgr.SendMessage(ctx, msg); err != nil {
		s.logger.Error().Err(err).Msg("chat send failed")
		return err
	}
	return nil
}
