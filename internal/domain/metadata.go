package domain

import (
	"strings"

	"github.com/bytedance/sonic"
)

const metadataKeyPrefix = "user_"

// MetadataEntry is the durable per-user channel record. Unlike
// presence it survives a brief disconnect, so a host can recover
// display names after a refresh.
type MetadataEntry struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func MetadataKey(uid UserID) string {
	return metadataKeyPrefix + string(uid)
}

func UserIDFromMetadataKey(key string) (UserID, bool) {
	rest, ok := strings.CutPrefix(key, metadataKeyPrefix)
	if !ok || rest == "" {
		return "", false
	}
	return UserID(rest), true
}

func (e MetadataEntry) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}

func DecodeMetadataEntry(data []byte) (MetadataEntry, error) {
	var e MetadataEntry
	if err := sonic.Unmarshal(data, &e); err != nil {
		return MetadataEntry{}, err
	}
	return e, nil
}
