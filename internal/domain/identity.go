// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const (
	MaxUserIDLen  = 64
	MaxChannelLen = 64
	MaxNameLen    = 64
)

var (
	ErrUserIDEmpty    = errors.New("user id empty")
	ErrUserIDTooLong  = errors.New("user id too long")
	ErrChannelEmpty   = errors.New("channel name empty")
	ErrChannelTooLong = errors.New("channel name too long")
	ErrInvalidRole    = errors.New("invalid role")
)

type (
	UserID      string
	ChannelName string
)

// Role is fixed at join time. Changing role means a new identity,
// disconnect and rejoin included.
type Role string

const (
	RoleHost       Role = "host"
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

func (r Role) Valid() bool {
	return r == RoleHost || r == RolePublisher || r == RoleSubscriber
}

func (r Role) CanPublish() bool {
	return r == RoleHost || r == RolePublisher
}

type SessionIdentity struct {
	UserID  UserID      `json:"userId"`
	Channel ChannelName `json:"channelName"`
	Role    Role        `json:"role"`
}

// NewSessionIdentity avoids ad-hoc struct literals in adapters.
func NewSessionIdentity(uid UserID, channel ChannelName, role Role) (SessionIdentity, error) {
	switch {
	case len(uid) == 0:
		return SessionIdentity{}, ErrUserIDEmpty
	case len(uid) > MaxUserIDLen:
		return SessionIdentity{}, ErrUserIDTooLong
	case len(channel) == 0:
		return SessionIdentity{}, ErrChannelEmpty
	case len(channel) > MaxChannelLen:
		return SessionIdentity{}, ErrChannelTooLong
	case !role.Valid():
		return SessionIdentity{}, ErrInvalidRole
	}
	return SessionIdentity{UserID: uid, Channel: channel, Role: role}, nil
}
