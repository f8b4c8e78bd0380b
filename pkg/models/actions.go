package models

// Action types recorded in the append-only action log. The set is
// partitioned into user-initiated actions (the developer did something) and
// system actions (Paige did something). Only user-initiated actions count
// toward flow-state detection.
const (
	// User-initiated actions.
	ActionBufferUpdate           = "buffer_update"
	ActionBufferSignificant      = "buffer_significant_change"
	ActionBufferSummary          = "buffer_summary"
	ActionFileOpen               = "file_open"
	ActionFileClose              = "file_close"
	ActionFileSave               = "file_save"
	ActionTabSwitch              = "tab_switch"
	ActionUserExplainRequest     = "user_explain_request"
	ActionUserReviewRequest      = "user_review_request"
	ActionPhaseCompleted         = "phase_completed"
	ActionHintLevelChange        = "hint_level_change"
	ActionCoachingDismissed      = "coaching_dismissed"
	ActionCoachingFeedback       = "coaching_feedback"
	ActionIdleStart              = "idle_start"
	ActionIdleEnd                = "idle_end"
	ActionNavigation             = "navigation"

	// System actions.
	ActionMCPToolCall     = "mcp_tool_call"
	ActionDecorationApply = "decoration_apply"
	ActionCoachingMessage = "coaching_message"
	ActionObserverTriage  = "observer_triage"
	ActionNudgeSent       = "nudge_sent"
	ActionNudgeSuppressed = "nudge_suppressed"
	ActionSessionStart    = "session_start"
	ActionSessionEnd      = "session_end"
	ActionPlanCreated     = "plan_created"
	ActionReviewCompleted = "review_completed"
)

var userInitiated = map[string]bool{
	ActionBufferUpdate:       true,
	ActionBufferSignificant:  true,
	ActionBufferSummary:      true,
	ActionFileOpen:           true,
	ActionFileClose:          true,
	ActionFileSave:           true,
	ActionTabSwitch:          true,
	ActionUserExplainRequest: true,
	ActionUserReviewRequest:  true,
	ActionPhaseCompleted:     true,
	ActionHintLevelChange:    true,
	ActionCoachingDismissed:  true,
	ActionCoachingFeedback:   true,
	ActionIdleStart:          true,
	ActionIdleEnd:            true,
	ActionNavigation:         true,
}

// IsUserInitiated reports whether an action type belongs to the
// user-initiated partition.
func IsUserInitiated(actionType string) bool {
	return userInitiated[actionType]
}
