// Package session implements the Session Store: a durable map from
// hierarchical session key to routing/metadata entry, backed by a single
// JSON file per agent and guarded by a cross-process file lock.
package session

// ChatType tags the shape of the peer a session routes to.
type ChatType string

const (
	ChatDirect  ChatType = "direct"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// Delivery is the last-known outbound routing for a session: where a reply
// should land absent any other instruction.
type Delivery struct {
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Account   string `json:"account,omitempty"`
	Thread    string `json:"thread,omitempty"`
}

// QueuePolicy controls how inbound turns for this session are coalesced
// before reaching the Command-Lane Dispatcher.
type QueuePolicy struct {
	Mode       string `json:"mode,omitempty"`
	DebounceMs int    `json:"debounceMs,omitempty"`
	Cap        int    `json:"cap,omitempty"`
}

// TokenCounters accumulates usage reported back by the Agent Executor
// Facade for a session's lifetime.
type TokenCounters struct {
	Input       int64 `json:"input,omitempty"`
	Output      int64 `json:"output,omitempty"`
	Total       int64 `json:"total,omitempty"`
	Compactions int64 `json:"compactions,omitempty"`
}

// Entry is the record stored under a session key. SessionID is immutable
// once assigned; UpdatedAt must only move forward within one entry's
// lifetime — both invariants are enforced by the mutators in store.go, not
// by this type itself.
type Entry struct {
	SessionID      string   `json:"sessionId"`
	UpdatedAtMs    int64    `json:"updatedAt"`
	TranscriptPath string   `json:"transcriptPath,omitempty"`
	ChatType       ChatType `json:"chatType,omitempty"`
	Channel        string   `json:"channel,omitempty"`
	GroupID        string   `json:"groupId,omitempty"`
	Subject        string   `json:"subject,omitempty"`

	LastDelivery Delivery `json:"lastDelivery,omitempty"`

	Model         string `json:"model,omitempty"`
	Provider      string `json:"provider,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	ExecutionHost string `json:"executionHost,omitempty"`
	SecurityMode  string `json:"securityMode,omitempty"`

	QueuePolicy QueuePolicy `json:"queuePolicy,omitempty"`

	DisplayLabel string `json:"displayLabel,omitempty"`
	Origin       string `json:"origin,omitempty"`

	Tokens TokenCounters `json:"tokens,omitempty"`
}

// Clone returns a value copy of e. Every field of Entry is a plain value
// (no slices, maps, or pointers), so a struct copy is already a deep copy.
func (e Entry) Clone() Entry { return e }

const (
	// maxAgeDays is the prune threshold in days: entries untouched for longer
	// than this are evicted during maintenance.
	maxAgeDays = 30
	// maxEntries is the hard cap on the store; the least-recently-updated
	// entries beyond it are evicted.
	maxEntries = 500
	// maxFileBytes triggers archival of the oldest half of entries.
	maxFileBytes = 10 * 1024 * 1024
	// cacheTTLSeconds bounds how long Load may serve a cached snapshot; within
	// that window the cache is used only while the file's modification time
	// is unchanged.
	cacheTTLSeconds = 45
)
