package hub

import (
	"encoding/json"
	"time"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func newEnvelope(msgType string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

// Server→client message types.
const (
	MsgConnectionHello = "connection:hello"
	MsgConnectionInit  = "connection:init"
	MsgConnectionError = "connection:error"

	MsgSessionStart   = "session:start"
	MsgSessionRestore = "session:restore"
	MsgSessionEnd     = "session:end"

	MsgDashboardDreyfus        = "dashboard:dreyfus"
	MsgDashboardStats          = "dashboard:stats"
	MsgDashboardInProgress     = "dashboard:in_progress"
	MsgDashboardIssues         = "dashboard:issues"
	MsgDashboardChallenges     = "dashboard:challenges"
	MsgDashboardMaterials      = "dashboard:materials"
	MsgDashboardIssue          = "dashboard:issue"
	MsgDashboardIssuesComplete = "dashboard:issues_complete"

	MsgFSTree       = "fs:tree"
	MsgFSTreeUpdate = "fs:tree_update"

	MsgBufferContent = "buffer:content"
	MsgSaveAck       = "save:ack"

	MsgExplorerHintFiles  = "explorer:hint_files"
	MsgExplorerClearHints = "explorer:clear_hints"

	MsgEditorDecorations      = "editor:decorations"
	MsgEditorClearDecorations = "editor:clear_decorations"

	MsgCoachingMessage      = "coaching:message"
	MsgCoachingReviewResult = "coaching:review_result"
	MsgCoachingClear        = "coaching:clear"

	MsgPhaseTransition = "phase:transition"
	MsgObserverNudge   = "observer:nudge"
	MsgObserverStatus  = "observer:status"

	MsgPlanningStarted     = "planning:started"
	MsgPlanningProgress    = "planning:progress"
	MsgPlanningPhaseUpdate = "planning:phase_update"
	MsgPlanningComplete    = "planning:complete"
	MsgPlanningError       = "planning:error"

	MsgErrorFileNotFound     = "error:file_not_found"
	MsgErrorPermissionDenied = "error:permission_denied"
	MsgErrorGeneral          = "error:general"

	MsgReposListResponse = "repos:list_response"
	MsgRepoActivity      = "repo:activity"

	MsgSessionRepoStarted   = "session:repo_started"
	MsgSessionIssueSelected = "session:issue_selected"
)

// Client→server message types.
const (
	MsgConnectionReady = "connection:ready"

	MsgDashboardStatsPeriod = "dashboard:stats_period"
	MsgDashboardResumeTask  = "dashboard:resume_task"
	MsgDashboardStartIssue  = "dashboard:start_issue"

	MsgFileOpen  = "file:open"
	MsgFileClose = "file:close"
	MsgFileSave  = "file:save"

	MsgBufferUpdate = "buffer:update"

	MsgEditorCursor    = "editor:cursor"
	MsgEditorScroll    = "editor:scroll"
	MsgEditorSelection = "editor:selection"

	MsgTerminalReady  = "terminal:ready"
	MsgTerminalInput  = "terminal:input"
	MsgTerminalResize = "terminal:resize"

	MsgHintsLevelChange = "hints:level_change"

	MsgUserExplain = "user:explain"
	MsgUserReview  = "user:review"

	MsgCoachingDismiss  = "coaching:dismiss"
	MsgCoachingFeedback = "coaching:feedback"

	MsgUserIdleStart  = "user:idle_start"
	MsgUserIdleEnd    = "user:idle_end"
	MsgUserNavigation = "user:navigation"

	MsgPhaseExpandStep = "phase:expand_step"

	MsgReposList     = "repos:list"
	MsgReposActivity = "repos:activity"

	MsgSessionStartRepo   = "session:start_repo"
	MsgSessionSelectIssue = "session:select_issue"
)

// ServerTypes is the closed set of server→client message types.
var ServerTypes = []string{
	MsgConnectionHello, MsgConnectionInit, MsgConnectionError,
	MsgSessionStart, MsgSessionRestore, MsgSessionEnd,
	MsgDashboardDreyfus, MsgDashboardStats, MsgDashboardInProgress,
	MsgDashboardIssues, MsgDashboardChallenges, MsgDashboardMaterials,
	MsgDashboardIssue, MsgDashboardIssuesComplete,
	MsgFSTree, MsgFSTreeUpdate,
	MsgBufferContent, MsgSaveAck,
	MsgExplorerHintFiles, MsgExplorerClearHints,
	MsgEditorDecorations, MsgEditorClearDecorations,
	MsgCoachingMessage, MsgCoachingReviewResult, MsgCoachingClear,
	MsgPhaseTransition, MsgObserverNudge, MsgObserverStatus,
	MsgPlanningStarted, MsgPlanningProgress, MsgPlanningPhaseUpdate,
	MsgPlanningComplete, MsgPlanningError,
	MsgErrorFileNotFound, MsgErrorPermissionDenied, MsgErrorGeneral,
	MsgReposListResponse, MsgRepoActivity,
	MsgSessionRepoStarted, MsgSessionIssueSelected,
}

// ClientTypes is the closed set of client→server message types.
var ClientTypes = []string{
	MsgConnectionReady,
	MsgDashboardStatsPeriod, MsgDashboardResumeTask, MsgDashboardStartIssue,
	MsgFileOpen, MsgFileClose, MsgFileSave,
	MsgBufferUpdate,
	MsgEditorCursor, MsgEditorScroll, MsgEditorSelection,
	MsgTerminalReady, MsgTerminalInput, MsgTerminalResize,
	MsgHintsLevelChange,
	MsgUserExplain, MsgUserReview,
	MsgCoachingDismiss, MsgCoachingFeedback,
	MsgUserIdleStart, MsgUserIdleEnd, MsgUserNavigation,
	MsgPhaseExpandStep,
	MsgReposList, MsgReposActivity,
	MsgSessionStartRepo, MsgSessionSelectIssue,
}

// lowPriority marks frame types that may be dropped from a saturated
// egress queue before coaching or session frames.
var lowPriority = map[string]bool{
	MsgBufferUpdate: true,
	MsgEditorCursor: true,
	MsgEditorScroll: true,
}

// LowPriority reports whether frames of this type are droppable under
// backpressure.
func LowPriority(msgType string) bool { return lowPriority[msgType] }
