package domain

// PresenceRecord is what the presence cache stores per remote user.
// The local user is never represented here.
type PresenceRecord struct {
	UserID      UserID `json:"userId"`
	Name        string `json:"name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	IsOnline    bool   `json:"isOnline"`
	IsRecording bool   `json:"isRecording,omitempty"`
}

// Presence state keys. Values are strings end to end, a transport
// constraint; booleans travel as the literals "true"/"false".
const (
	stateKeyName        = "name"
	stateKeyAvatar      = "avatar"
	stateKeyIsRecording = "isRecording"
)

func EncodePresenceState(name, avatar string, isRecording bool) map[string]string {
	state := map[string]string{stateKeyName: name}
	if avatar != "" {
		state[stateKeyAvatar] = avatar
	}
	if isRecording {
		state[stateKeyIsRecording] = "true"
	} else {
		state[stateKeyIsRecording] = "false"
	}
	return state
}

func DecodePresenceState(uid UserID, state map[string]string) PresenceRecord {
	return PresenceRecord{
		UserID:      uid,
		Name:        state[stateKeyName],
		Avatar:      state[stateKeyAvatar],
		IsOnline:    true,
		IsRecording: state[stateKeyIsRecording] == "true",
	}
}
