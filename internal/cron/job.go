// Package cron implements the Cron Scheduler (§4.E): the persistent job
// table, its timer engine, schedule computation across three schedule
// kinds, backoff, main/isolated dispatch through the Command-Lane
// Dispatcher, and the ephemeral cron-session reaper.
package cron

// ScheduleKind tags which of the three schedule variants a job uses.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// Schedule is the tagged schedule variant from §3. Only the fields relevant
// to Kind are populated.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// "at"
	AtMs int64 `json:"atMs,omitempty"`

	// "every"
	EveryMs   int64  `json:"everyMs,omitempty"`
	AnchorMs  *int64 `json:"anchorMs,omitempty"`

	// "cron"
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// SessionTarget picks whether a job's payload runs in the agent's main
// session or an ephemeral isolated one.
type SessionTarget string

const (
	TargetMain     SessionTarget = "main"
	TargetIsolated SessionTarget = "isolated"
)

// WakeMode controls whether a main-target job re-enters the agent
// immediately or waits for the next regularly scheduled heartbeat.
type WakeMode string

const (
	WakeNow           WakeMode = "now"
	WakeNextHeartbeat WakeMode = "next-heartbeat"
)

// PayloadKind tags the two payload variants.
type PayloadKind string

const (
	PayloadSystemEvent PayloadKind = "systemEvent"
	PayloadAgentTurn   PayloadKind = "agentTurn"
)

// Payload is the tagged payload variant from §3.
type Payload struct {
	Kind PayloadKind `json:"kind"`

	// systemEvent
	Text string `json:"text,omitempty"`

	// agentTurn
	Message        string `json:"message,omitempty"`
	Model          string `json:"model,omitempty"`
	Thinking       string `json:"thinking,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// DeliveryMode is the outcome handling for isolated-session jobs.
type DeliveryMode string

const (
	DeliveryAnnounce DeliveryMode = "announce"
	DeliveryNone     DeliveryMode = "none"
)

// Delivery controls where an isolated job's result lands. Channel is either
// the literal "last" (resolve from the Session Store's last-delivery
// fields) or an explicit channel name.
type Delivery struct {
	Mode       DeliveryMode `json:"mode"`
	Channel    string       `json:"channel"`
	To         string       `json:"to,omitempty"`
	BestEffort bool         `json:"bestEffort,omitempty"`
}

// RunStatus is the terminal status of the most recent run.
type RunStatus string

const (
	StatusOK      RunStatus = "ok"
	StatusError   RunStatus = "error"
	StatusSkipped RunStatus = "skipped"
)

// State is a job's runtime state (§3). Exactly one of NextRunAtMs /
// RunningAtMs is meaningful at any instant.
type State struct {
	NextRunAtMs       *int64    `json:"nextRunAtMs,omitempty"`
	RunningAtMs       *int64    `json:"runningAtMs,omitempty"`
	LastRunAtMs       *int64    `json:"lastRunAtMs,omitempty"`
	LastStatus        RunStatus `json:"lastStatus,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	LastDurationMs    int64     `json:"lastDurationMs,omitempty"`
	ConsecutiveErrors int       `json:"consecutiveErrors,omitempty"`
}

// Job is a single persisted scheduled unit of work.
type Job struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Enabled        bool          `json:"enabled"`
	DeleteAfterRun bool          `json:"deleteAfterRun,omitempty"`
	Schedule       Schedule      `json:"schedule"`
	SessionTarget  SessionTarget `json:"sessionTarget"`
	WakeMode       WakeMode      `json:"wakeMode"`
	Payload        Payload       `json:"payload"`
	Delivery       *Delivery     `json:"delivery,omitempty"`
	State          State         `json:"state"`
	CreatedAtMs    int64         `json:"createdAtMs"`
}

// IsolatedSessionKey mints the ephemeral session key for one run of an
// isolated job.
func IsolatedSessionKey(jobID, runUUID string) string {
	return "cron:" + jobID + ":run:" + runUUID
}

// JobSessionKey is the persistent, cross-run session key an isolated job's
// deliveries are recorded against (as opposed to IsolatedSessionKey, which
// is minted fresh for each individual run).
func JobSessionKey(jobID string) string {
	return "cron:" + jobID
}
