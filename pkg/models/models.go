// Package models defines the shared domain types for the Paige coaching
// backend: sessions, plans and phases, buffers, review results, and the
// broadcast forms of coaching messages.
package models

import "time"

// SessionStatus tracks the lifecycle state of a coaching session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionErrored   SessionStatus = "errored"
)

// Session is one coaching session over a project directory. At most one
// session is active per process; identity is the monotonic ID assigned by
// the session store.
type Session struct {
	ID          int64         `json:"id"`
	ProjectDir  string        `json:"projectDir"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
	IssueNumber *int          `json:"issueNumber,omitempty"`
	IssueTitle  string        `json:"issueTitle,omitempty"`
	BranchName  string        `json:"branchName,omitempty"`
	StashName   string        `json:"stashName,omitempty"`
}

// PhaseStatus tracks the state of a single plan phase.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseActive   PhaseStatus = "active"
	PhaseComplete PhaseStatus = "complete"
)

// PhaseStep is an expandable step shown beneath a phase in the UI.
type PhaseStep struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Phase is one of the five coarse workflow stages of a plan. Exactly one
// phase is active at a time unless all are complete or none is reached.
type Phase struct {
	Number  int         `json:"number"`
	Title   string      `json:"title"`
	Status  PhaseStatus `json:"status"`
	Summary string      `json:"summary,omitempty"`
	Steps   []PhaseStep `json:"steps,omitempty"`
}

// HintSet carries per-level scaffolding text for a task.
type HintSet struct {
	Low    string `json:"low"`
	Medium string `json:"medium"`
	High   string `json:"high"`
}

// PlanTask is a unit of work inside a phase.
type PlanTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	TargetFiles []string `json:"targetFiles,omitempty"`
	Hints       HintSet  `json:"hints"`
}

// PlanPhase is the planning-stage view of a phase, including its hint and
// task breakdown.
type PlanPhase struct {
	Number      int         `json:"number"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Hint        string      `json:"hint,omitempty"`
	Status      PhaseStatus `json:"status"`
	Tasks       []PlanTask  `json:"tasks,omitempty"`
}

// Plan is the coaching plan produced for an issue, owned by a session.
type Plan struct {
	Title   string      `json:"title"`
	Summary string      `json:"summary"`
	Phases  []PlanPhase `json:"phases"`
}

// Buffer is the in-memory unsaved content of one file, keyed by its
// workspace-relative path. Dirty means updated since the last save ack.
type Buffer struct {
	Path          string    `json:"path"`
	Content       string    `json:"content"`
	Dirty         bool      `json:"dirty"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Range is a half-open editor range in 1-based line/column coordinates.
type Range struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// MessageKind classifies coaching messages for UI rendering.
type MessageKind string

const (
	MessageHint    MessageKind = "hint"
	MessageInfo    MessageKind = "info"
	MessageSuccess MessageKind = "success"
	MessageWarning MessageKind = "warning"
)

// CoachingMessage is the broadcast form of a coaching hint or nudge.
type CoachingMessage struct {
	MessageID string      `json:"messageId"`
	Path      string      `json:"path,omitempty"`
	Range     *Range      `json:"range,omitempty"`
	Message   string      `json:"message"`
	Type      MessageKind `json:"type"`
	Source    string      `json:"source"`
}

// CommentSeverity grades a review code comment.
type CommentSeverity string

const (
	SeverityPraise     CommentSeverity = "praise"
	SeveritySuggestion CommentSeverity = "suggestion"
	SeverityIssue      CommentSeverity = "issue"
)

// CodeComment is a single inline comment from the review agent.
type CodeComment struct {
	FilePath  string          `json:"filePath"`
	StartLine int             `json:"startLine"`
	EndLine   int             `json:"endLine"`
	Comment   string          `json:"comment"`
	Severity  CommentSeverity `json:"severity"`
}

// TaskFeedback carries per-task review feedback.
type TaskFeedback struct {
	TaskTitle    string `json:"taskTitle"`
	Feedback     string `json:"feedback"`
	TaskComplete bool   `json:"taskComplete"`
}

// ReviewResult is the structured output of the review agent.
type ReviewResult struct {
	OverallFeedback string         `json:"overallFeedback"`
	CodeComments    []CodeComment  `json:"codeComments"`
	PhaseComplete   *bool          `json:"phaseComplete,omitempty"`
	TaskFeedback    []TaskFeedback `json:"taskFeedback,omitempty"`
}

// ExplanationEntry is a UI-visible explanation produced on demand.
type ExplanationEntry struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Explanation     string    `json:"explanation"`
	PhaseConnection string    `json:"phaseConnection,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// MemoryItem is one unit of session knowledge persisted by the reflection
// stage for retrieval in later sessions.
type MemoryItem struct {
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	Importance string   `json:"importance"`
}
