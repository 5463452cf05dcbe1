// Package control is the host-issued remote mute/kick protocol. It is
// a best-effort control channel over the signaling transport, not a
// consensus protocol: there are no acknowledgements, so the issuing
// host reflects the new state optimistically and the target enforces
// on receipt.
package control

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lumastream/signalcore/internal/domain"
	"github.com/lumastream/signalcore/internal/roster"
	"github.com/lumastream/signalcore/internal/signaling"
)

var (
	ErrNotHost      = errors.New("only the host may issue remote control commands")
	ErrBadMediaType = errors.New("remote mute applies to audio or video only")
)

// NewMuteCommand builds a host-to-target mute. Remote control is
// one-directional on purpose: a host can turn a peer's track off, and
// only the peer can turn it back on. There is no constructor for the
// reverse transition anywhere in this package.
func NewMuteCommand(target domain.UserID, media domain.MediaType) (domain.SignalingMessage, error) {
	if media != domain.MediaAudio && media != domain.MediaVideo {
		return domain.SignalingMessage{}, ErrBadMediaType
	}
	return domain.SignalingMessage{
		Type: domain.MessageMuteUser,
		Mute: &domain.MutePayload{UserID: target, MediaType: media, Mute: true},
	}, nil
}

// NewKickCommand builds a removal signal. The payload reuses the mute
// wire shape; receivers only look at the message type.
func NewKickCommand(target domain.UserID) domain.SignalingMessage {
	return domain.SignalingMessage{
		Type: domain.MessageKickUser,
		Kick: &domain.KickPayload{UserID: target, MediaType: domain.MediaAll, Mute: true},
	}
}

// Host issues commands and keeps the optimistic local ledger the UI
// renders from. "Sent successfully" means accepted by the transport,
// not received by the target.
type Host struct {
	mgr    *signaling.Manager
	kicked *roster.KickedSet
	logger zerolog.Logger

	mu    sync.Mutex
	muted map[domain.UserID]map[domain.MediaType]bool
}

func NewHost(mgr *signaling.Manager, kicked *roster.KickedSet) (*Host, error) {
	if mgr.Identity().Role != domain.RoleHost {
		return nil, ErrNotHost
	}
	return &Host{
		mgr:    mgr,
		kicked: kicked,
		logger: log.With().Str("module", "control.host").Logger(),
		muted:  make(map[domain.UserID]map[domain.MediaType]bool),
	}, nil
}

// MuteUser publishes the command and records the muted state locally
// on acceptance. A publish failure must surface to the issuing UI;
// the host needs to know the command may not have been delivered.
func (h *Host) MuteUser(ctx context.Context, target domain.UserID, media domain.MediaType) error {
	cmd, err := NewMuteCommand(target, media)
	if err != nil {
		return err
	}
	if err = h.mgr.SendMessage(ctx, cmd); err != nil {
		return err
	}
	h.mu.Lock()
	if h.muted[target] == nil {
		h.muted[target] = make(map[domain.MediaType]bool)
	}
	h.muted[target][media] = true
	h.mu.Unlock()
	h.logger.Info().Str("target", string(target)).Str("media", string(media)).Msg("mute sent")
	return nil
}

func (h *Host) KickUser(ctx context.Context, target domain.UserID) error {
	if err := h.mgr.SendMessage(ctx, NewKickCommand(target)); err != nil {
		return err
	}
	if h.kicked != nil {
		h.kicked.Add(target)
	}
	h.logger.Info().Str("target", string(target)).Msg("kick sent")
	return nil
}

func (h *Host) IsMuted(target domain.UserID, media domain.MediaType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.muted[target][media]
}

// Hooks are the target-side enforcement points. DisableAudio and
// DisableVideo must actually stop the local track; Notify surfaces the
// one-time "the host muted you" affordance; OnKicked decides what
// leaving looks like — session policy lives in the consuming UI, this
// layer only guarantees delivery.
type Hooks struct {
	DisableAudio func()
	DisableVideo func()
	Notify       func(media domain.MediaType)
	OnKicked     func()
}

// AttachEnforcer wires target-side handling onto the manager's message
// stream and returns the detach func. Commands addressed to other
// users are ignored here; the host's own view handles those.
func AttachEnforcer(mgr *signaling.Manager, hooks Hooks) func() {
	self := mgr.Identity().UserID
	logger := log.With().Str("module", "control.enforcer").Logger()

	return mgr.OnMessage(func(msg domain.SignalingMessage) {
		switch msg.Type {
		case domain.MessageMuteUser:
			if msg.Mute == nil || msg.Mute.UserID != self {
				return
			}
			switch msg.Mute.MediaType {
			case domain.MediaAudio:
				if hooks.DisableAudio != nil {
					hooks.DisableAudio()
				}
			case domain.MediaVideo:
				if hooks.DisableVideo != nil {
					hooks.DisableVideo()
				}
			default:
				logger.Warn().Str("media", string(msg.Mute.MediaType)).Msg("unsupported mute target")
				return
			}
			if hooks.Notify != nil {
				hooks.Notify(msg.Mute.MediaType)
			}
			logger.Info().Str("media", string(msg.Mute.MediaType)).Msg("muted by host")
		case domain.MessageKickUser:
			if msg.Kick == nil || msg.Kick.UserID != self {
				return
			}
			logger.Info().Msg("kicked by host")
			if hooks.OnKicked != nil {
				hooks.OnKicked()
			}
		}
	})
}
