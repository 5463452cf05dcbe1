package transport

import "encoding/json"

// Wire frames shared by the client and the reference server. Ops flow
// client to server, events flow back. Every op carries an ID and gets
// a "result" event with the same ID.

const (
	OpSubscribe      = "subscribe"
	OpUnsubscribe    = "unsubscribe"
	OpPublish        = "publish"
	OpPresenceSet    = "presence_set"
	OpMetadataSet    = "metadata_set"
	OpMetadataGet    = "metadata_get"
	OpMetadataRemove = "metadata_remove"
)

const (
	EventMessage  = "message"
	EventPresence = "presence"
	EventResult   = "result"
	EventError    = "error"
)

type OpFrame struct {
	Op      string            `json:"op"`
	ID      string            `json:"id"`
	Channel string            `json:"channel,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	State   map[string]string `json:"state,omitempty"`
	Key     string            `json:"key,omitempty"`
	Value   string            `json:"value,omitempty"`
}

type WireError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

type EventFrame struct {
	Event     string            `json:"event"`
	ID        string            `json:"id,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Publisher string            `json:"publisher,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Kind      PresenceKind      `json:"kind,omitempty"`
	State     map[string]string `json:"state,omitempty"`
	Snapshot  []PresenceMember  `json:"snapshot,omitempty"`
	OK        bool              `json:"ok,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Err       *WireError        `json:"error,omitempty"`
}
