package voice

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// ssrcMap tracks the SSRC<->user bindings the server announces via
// Speaking events. It is written from the event-loop goroutine and read
// from any goroutine (e.g. a GUI asking "who is speaking"), so it is
// backed by the same concurrent map the teacher uses for its guild-wide
// user occupancy table (internal/gateway.go's userOccupancy).
type ssrcMap struct {
	byUser cmap.ConcurrentMap[string, uint32]
}

func newSSRCMap() *ssrcMap {
	return &ssrcMap{byUser: cmap.New[uint32]()}
}

// Set records that userID now owns ssrc, last writer wins. Any other
// user previously holding the same ssrc is evicted first, so the map
// never holds two entries for one ssrc after this call returns.
func (m *ssrcMap) Set(userID string, ssrc uint32) {
	for item := range m.byUser.IterBuffered() {
		if item.Key != userID && item.Val == ssrc {
			m.byUser.Remove(item.Key)
		}
	}
	m.byUser.Set(userID, ssrc)
}

// SSRCOfUser returns the SSRC most recently bound to userID.
func (m *ssrcMap) SSRCOfUser(userID string) (uint32, bool) {
	return m.byUser.Get(userID)
}

// UserOfSSRC returns the user most recently bound to ssrc, the reverse
// accessor spec.md §3 requires.
func (m *ssrcMap) UserOfSSRC(ssrc uint32) (string, bool) {
	for item := range m.byUser.IterBuffered() {
		if item.Val == ssrc {
			return item.Key, true
		}
	}
	return "", false
}
