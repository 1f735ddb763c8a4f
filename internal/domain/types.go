// Package domain holds the shared data model of spec.md §3: Asset,
// Session, Hunt, HuntModule, Observation, Finding, and TimelineEvent.
// These types are intentionally dependency-free (ids + stdlib only) so
// every component — eventbus, sshconn, session, hunt, ai, intelligence,
// gateway — can import them without a cycle, mirroring how the teacher
// keeps its own wire/event types (messaging/types.go) independent of
// any single subsystem.
package domain

import (
	"time"

	"github.com/huntrelay/huntrelay/internal/ids"
)

// OSTag identifies a target operating system family.
type OSTag string

const (
	OSLinux   OSTag = "linux"
	OSWindows OSTag = "windows"
	OSMacOS   OSTag = "macos"
	OSUnknown OSTag = "unknown"
)

// Asset is a remote host reachable by SSH. Immutable except via the
// external asset CRUD collaborator (internal/asset provides a
// reference implementation per spec.md §1).
type Asset struct {
	ID       ids.AssetID
	Hostname string
	IP       string
	OS       OSTag
	SSHPort  int
	Username string
}

// SessionMode selects what a Session's SSH channel is driving.
type SessionMode string

const (
	ModeAI          SessionMode = "ai"
	ModeInteractive SessionMode = "interactive"
)

// SessionState is a node in the state machine of spec.md §4.3.
type SessionState string

const (
	StateInitializing  SessionState = "INITIALIZING"
	StateConnecting    SessionState = "CONNECTING"
	StateConnected     SessionState = "CONNECTED"
	StateRunning       SessionState = "RUNNING"
	StatePaused        SessionState = "PAUSED"
	StateLocked        SessionState = "LOCKED"
	StateDisconnected  SessionState = "DISCONNECTED"
	StateFailed        SessionState = "FAILED"
	StateTerminated    SessionState = "TERMINATED"
)

// Session is a live handle on an Asset for one analyst.
type Session struct {
	ID           ids.SessionID
	AssetID      ids.AssetID
	AnalystID    ids.AnalystID
	Mode         SessionMode
	State        SessionState
	LockedBy     ids.AnalystID // zero value iff State != StateLocked
	CreatedAt    time.Time
	TerminatedAt time.Time
}

// HuntStatus is the lifecycle status of a Hunt.
type HuntStatus string

const (
	HuntPending   HuntStatus = "PENDING"
	HuntRunning   HuntStatus = "RUNNING"
	HuntCompleted HuntStatus = "COMPLETED"
	HuntFailed    HuntStatus = "FAILED"
	HuntCancelled HuntStatus = "CANCELLED"
)

// Hunt is a scheduled execution of a HuntModule against a Session.
type Hunt struct {
	ID            ids.HuntID
	SessionID     ids.SessionID
	ModuleID      ids.HuntModuleID
	RunAI         bool
	Status        HuntStatus
	StartedAt     time.Time
	EndedAt       time.Time
	FindingsCount int
	AIReportText  string
}

// Severity is shared by HuntModule.SeverityHint and Finding.Severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders Severity for the Finding upsert "promote to max
// of old and new" rule (spec.md §4.6).
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns whichever of a, b ranks higher.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Step is one command in a HuntModule.
type Step struct {
	ID             string
	Description    string
	Command        string
	TimeoutSeconds int
	RequiresSudo   bool
}

// HuntModule is the static spec for an ordered sequence of Steps.
type HuntModule struct {
	ID            ids.HuntModuleID
	Name          string
	Description   string
	OSTypes       []OSTag
	Tags          []string
	SeverityHint  Severity
	Steps         []Step
}

// SupportsOS reports whether tag is among the module's OSTypes.
func (m HuntModule) SupportsOS(tag OSTag) bool {
	for _, t := range m.OSTypes {
		if t == tag {
			return true
		}
	}
	return false
}

// ExitStatus classifies how a Step's Exec call terminated.
type ExitStatus string

const (
	ExitNormal  ExitStatus = "normal" // Code holds the real exit code
	ExitTimeout ExitStatus = "timeout"
	ExitSignal  ExitStatus = "signal"
	ExitSkipped ExitStatus = "skipped:no_sudo"
)

// MaxObservationBytes bounds captured stdout/stderr per spec.md §3.
const MaxObservationBytes = 256 * 1024

// Observation is the bounded result of running one Step.
type Observation struct {
	HuntID        ids.HuntID
	StepID        string
	CommandAsSent string
	Stdout        string
	StdoutTrunc   bool
	Stderr        string
	StderrTrunc   bool
	Exit          ExitStatus
	Code          int
	WallMS        int64
}

// FindingKind distinguishes AI-authored reports from rule-based
// detections.
type FindingKind string

const (
	FindingAIReport   FindingKind = "ai_report"
	FindingDetection  FindingKind = "detection"
)

// FindingStatus is the analyst-managed lifecycle of a Finding.
type FindingStatus string

const (
	FindingOpen         FindingStatus = "open"
	FindingAcknowledged FindingStatus = "acknowledged"
	FindingResolved     FindingStatus = "resolved"
)

// RemediationPlan groups remediation steps by urgency, as spec.md §3
// requires ("three ordered lists: immediate, short-term, long-term").
type RemediationPlan struct {
	Immediate []string
	ShortTerm []string
	LongTerm  []string
}

// Finding is a persisted, deduplicated intelligence record. Identity
// key for dedup is (AssetID, Fingerprint); see internal/intelligence
// for the upsert rule and fingerprint algorithm.
type Finding struct {
	ID            ids.FindingID
	AssetID       ids.AssetID
	SessionID     ids.SessionID
	HuntID        ids.HuntID
	Kind          FindingKind
	Title         string
	TechniqueIDs  []string
	Severity      Severity
	Confidence    float64
	Status        FindingStatus
	SightingCount int
	FirstSeen     time.Time
	LastSeen      time.Time
	Tags          []string
	STIXBundle    string // opaque, optional
	Remediation   *RemediationPlan
	Fingerprint   string
}

// TimelineEvent is an append-only per-asset audit log entry.
type TimelineEvent struct {
	ID         string
	AssetID    ids.AssetID
	EventType  string
	Payload    string // opaque JSON
	OccurredAt time.Time
	AnalystID  ids.AnalystID
}
