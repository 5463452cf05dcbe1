package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

var (
	ErrMalformedMessage   = errors.New("malformed signaling message")
	ErrUnknownMessageType = errors.New("unknown signaling message type")
	ErrEmptyMessage       = errors.New("empty signaling message")
)

type MessageType string

const (
	MessageMuteUser            MessageType = "MUTE_USER"
	MessageKickUser            MessageType = "KICK_USER"
	MessageChat                MessageType = "CHAT_MESSAGE"
	MessageUserAnnounce        MessageType = "USER_ANNOUNCE"
	MessageHostRequestAnnounce MessageType = "HOST_REQUEST_ANNOUNCE"
)

type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaAll   MediaType = "all"
)

// Peers built on loosely typed stacks send userId either as a string
// or as a bare number. Both decode into the string form.
func (u *UserID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return ErrMalformedMessage
	}
	if data[0] == '"' {
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n int64
	if err := sonic.Unmarshal(data, &n); err != nil {
		return err
	}
	*u = UserID(strconv.FormatInt(n, 10))
	return nil
}

type MutePayload struct {
	UserID    UserID    `json:"userId"`
	MediaType MediaType `json:"mediaType"`
	Mute      bool      `json:"mute"`
}

// KickPayload keeps the mute-shaped wire fields for compatibility.
// Receivers treat the message type alone as the removal signal and
// never read MediaType or Mute on it.
type KickPayload struct {
	UserID    UserID    `json:"userId"`
	MediaType MediaType `json:"mediaType"`
	Mute      bool      `json:"mute"`
}

type ChatPayload struct {
	UserID    UserID `json:"userId"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	IsCreator bool   `json:"isCreator,omitempty"`
}

type AnnouncePayload struct {
	UserID UserID `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type HostRequestPayload struct {
	HostID UserID `json:"hostId"`
}

// SignalingMessage is a tagged union: Type names exactly one non-nil
// payload field. It only ever exists in flight, never stored.
type SignalingMessage struct {
	Type        MessageType
	Mute        *MutePayload
	Kick        *KickPayload
	Chat        *ChatPayload
	Announce    *AnnouncePayload
	HostRequest *HostRequestPayload
}

type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func EncodeMessage(m SignalingMessage) ([]byte, error) {
	var payload any
	switch m.Type {
	case MessageMuteUser:
		payload = m.Mute
	case MessageKickUser:
		payload = m.Kick
	case MessageChat:
		payload = m.Chat
	case MessageUserAnnounce:
		payload = m.Announce
	case MessageHostRequestAnnounce:
		payload = m.HostRequest
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: %s payload is nil", ErrEmptyMessage, m.Type)
	}
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return sonic.Marshal(envelope{Type: m.Type, Payload: raw})
}

// DecodeMessage returns ErrUnknownMessageType for types outside the
// union; callers drop those without failing the dispatch loop.
func DecodeMessage(data []byte) (SignalingMessage, error) {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return SignalingMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	m := SignalingMessage{Type: env.Type}
	var err error
	switch env.Type {
	case MessageMuteUser:
		m.Mute, err = decodePayload[MutePayload](env.Payload)
	case MessageKickUser:
		m.Kick, err = decodePayload[KickPayload](env.Payload)
	case MessageChat:
		m.Chat, err = decodePayload[ChatPayload](env.Payload)
	case MessageUserAnnounce:
		m.Announce, err = decodePayload[AnnouncePayload](env.Payload)
	case MessageHostRequestAnnounce:
		m.HostRequest, err = decodePayload[HostRequestPayload](env.Payload)
	default:
		return SignalingMessage{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	if err != nil {
		return SignalingMessage{}, err
	}
	return m, nil
}

func decodePayload[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}
	var p T
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &p, nil
}
