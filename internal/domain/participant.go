package domain

import "fmt"

// Track is an opaque handle into the media engine. The core never
// manages the underlying media connection, it only carries references.
type Track interface {
	ID() string
}

// Participant is the derived view model for one tile in the call view.
// It has no lifecycle of its own: every reconciliation pass rebuilds
// the full list from scratch.
type Participant struct {
	UID        UserID
	Name       string
	Avatar     string
	IsLocal    bool
	CameraOn   bool
	MicOn      bool
	AudioTrack Track
	VideoTrack Track
}

// FallbackName covers users visible in the media engine before their
// presence state has caught up.
func FallbackName(uid UserID) string {
	return fmt.Sprintf("User %s", uid)
}
