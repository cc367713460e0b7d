package heartbeat

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const duplicateWindow = 24 * time.Hour

type digestEntry struct {
	digest string
	at     time.Time
}

// dedup records a digest of the most recent outbound content per
// (agent, target) and suppresses identical follow-ups within a 24-hour
// window (§4.D "duplicate suppression").
type dedup struct {
	mu      sync.Mutex
	entries map[string]digestEntry
	now     func() time.Time
}

func newDedup() *dedup {
	return &dedup{entries: make(map[string]digestEntry), now: time.Now}
}

func dedupKey(agentID, target string) string {
	return agentID + "\x00" + target
}

func hashContent(text string) string {
	hasher := blake3.New()
	hasher.Write([]byte(text))
	return hex.EncodeToString(hasher.Sum(nil))
}

// ShouldSuppress reports whether text is an exact repeat of the last
// outbound content for (agentID, target) within the duplicate window. It
// does not record anything; call Record after a successful send.
func (d *dedup) ShouldSuppress(agentID, target, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[dedupKey(agentID, target)]
	if !ok {
		return false
	}
	if d.now().Sub(entry.at) > duplicateWindow {
		return false
	}
	return entry.digest == hashContent(text)
}

// Record stores text's digest as the latest outbound content for
// (agentID, target).
func (d *dedup) Record(agentID, target, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[dedupKey(agentID, target)] = digestEntry{digest: hashContent(text), at: d.now()}
}
