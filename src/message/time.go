package message

import (
	"time"

	"github.com/mosaicnetworks/hub/src/common"
)

// FarcasterEpoch is 2021-01-01T00:00:00Z in unix seconds.
const FarcasterEpoch int64 = 1609459200

// ToFarcasterTime converts a wall-clock time into seconds since the Farcaster
// epoch.
func ToFarcasterTime(t time.Time) (uint32, error) {
	secs := t.Unix() - FarcasterEpoch
	if secs < 0 {
		return 0, common.NewHubErr(common.Structural, "time %v is before the farcaster epoch", t)
	}
	if secs > int64(^uint32(0)) {
		return 0, common.NewHubErr(common.Structural, "time %v overflows farcaster time", t)
	}
	return uint32(secs), nil
}

// FromFarcasterTime converts a Farcaster timestamp back to a time.Time.
func FromFarcasterTime(ts uint32) time.Time {
	return time.Unix(FarcasterEpoch+int64(ts), 0).UTC()
}
