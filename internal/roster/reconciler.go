// Package roster derives the authoritative "who is on this call" view.
// The participant list is a pure function of its inputs and is rebuilt
// from scratch on every pass; nothing here has its own lifecycle.
package roster

import (
	"sort"
	"sync"

	"github.com/lumastream/signalcore/internal/domain"
)

// RemoteUser is what the media engine reports for one remote peer.
// The core only reads these flags; it never manages the connection.
type RemoteUser struct {
	UID        domain.UserID
	HasAudio   bool
	HasVideo   bool
	AudioTrack domain.Track
	VideoTrack domain.Track
}

// LocalState describes the local user's tracks and toggles. Self is
// never represented through presence echo.
type LocalState struct {
	Identity   domain.SessionIdentity
	Name       string
	Avatar     string
	CameraOn   bool
	MicOn      bool
	AudioTrack domain.Track
	VideoTrack domain.Track
}

// KickedSet records users removed by host action in this session.
// Cleared only by leaving and rejoining, never persisted.
type KickedSet struct {
	mu sync.RWMutex
	m  map[domain.UserID]struct{}
}

func NewKickedSet() *KickedSet {
	return &KickedSet{m: make(map[domain.UserID]struct{})}
}

func (k *KickedSet) Add(uid domain.UserID) {
	k.mu.Lock()
	k.m[uid] = struct{}{}
	k.mu.Unlock()
}

func (k *KickedSet) Contains(uid domain.UserID) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.m[uid]
	return ok
}

func (k *KickedSet) Clear() {
	k.mu.Lock()
	k.m = make(map[domain.UserID]struct{})
	k.mu.Unlock()
}

func (k *KickedSet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.m)
}

// Reconcile merges local media state, the media engine's remote users,
// the presence cache and the kicked set into the ordered participant
// list: local first when publishing, remotes sorted by uid.
//
// Kicked users never render regardless of presence or media state; the
// underlying media connection may linger briefly, the view contract
// does not. Presence alone never creates a tile either: a user joins
// the list only once the media engine reports them.
func Reconcile(
	local LocalState,
	remote []RemoteUser,
	presence map[domain.UserID]domain.PresenceRecord,
	kicked *KickedSet,
) []domain.Participant {
	out := make([]domain.Participant, 0, len(remote)+1)

	if local.Identity.Role.CanPublish() {
		name := local.Name
		if name == "" {
			name = domain.FallbackName(local.Identity.UserID)
		}
		out = append(out, domain.Participant{
			UID:        local.Identity.UserID,
			Name:       name,
			Avatar:     local.Avatar,
			IsLocal:    true,
			CameraOn:   local.CameraOn,
			MicOn:      local.MicOn,
			AudioTrack: local.AudioTrack,
			VideoTrack: local.VideoTrack,
		})
	}

	sorted := make([]RemoteUser, len(remote))
	copy(sorted, remote)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UID < sorted[j].UID })

	for _, ru := range sorted {
		if ru.UID == local.Identity.UserID {
			continue
		}
		if kicked != nil && kicked.Contains(ru.UID) {
			continue
		}
		p := domain.Participant{
			UID:        ru.UID,
			Name:       domain.FallbackName(ru.UID),
			CameraOn:   ru.HasVideo,
			MicOn:      ru.HasAudio,
			AudioTrack: ru.AudioTrack,
			VideoTrack: ru.VideoTrack,
		}
		if rec, ok := presence[ru.UID]; ok {
			if rec.Name != "" {
				p.Name = rec.Name
			}
			p.Avatar = rec.Avatar
		}
		out = append(out, p)
	}
	return out
}
