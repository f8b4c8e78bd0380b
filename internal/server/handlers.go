package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paigeai/paige/internal/coaching"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/review"
	"github.com/paigeai/paige/internal/workspace"
	"github.com/paigeai/paige/pkg/models"
)

func (s *Server) registerHandlers() {
	s.hub.On(hub.MsgFileOpen, s.handleFileOpen)
	s.hub.On(hub.MsgFileClose, s.handleFileClose)
	s.hub.On(hub.MsgFileSave, s.handleFileSave)
	s.hub.On(hub.MsgBufferUpdate, s.handleBufferUpdate)
	s.hub.On(hub.MsgEditorCursor, s.handleEditorCursor)
	s.hub.On(hub.MsgEditorScroll, s.handleEditorScroll)
	s.hub.On(hub.MsgHintsLevelChange, s.handleHintLevelChange)
	s.hub.On(hub.MsgUserExplain, s.handleUserExplain)
	s.hub.On(hub.MsgUserReview, s.handleUserReview)
	s.hub.On(hub.MsgCoachingDismiss, s.logOnly(models.ActionCoachingDismissed))
	s.hub.On(hub.MsgCoachingFeedback, s.logOnly(models.ActionCoachingFeedback))
	s.hub.On(hub.MsgUserIdleStart, s.logOnly(models.ActionIdleStart))
	s.hub.On(hub.MsgUserIdleEnd, s.logOnly(models.ActionIdleEnd))
	s.hub.On(hub.MsgUserNavigation, s.logOnly(models.ActionNavigation))
	s.hub.On(hub.MsgDashboardStatsPeriod, s.handleStatsPeriod)
}

// InitPayload builds the connection:init payload for new clients.
func (s *Server) InitPayload() map[string]any {
	payload := map[string]any{
		"capabilities": []string{"coaching", "observer", "planning", "review"},
		"featureFlags": map[string]bool{},
	}
	if id, ok := s.sessions.ActiveID(); ok {
		payload["sessionId"] = id
	} else {
		payload["sessionId"] = nil
	}
	return payload
}

func (s *Server) activeSession() (int64, bool) {
	return s.sessions.ActiveID()
}

func (s *Server) log(ctx context.Context, actionType string, data map[string]any) {
	sessionID, ok := s.activeSession()
	if !ok {
		return
	}
	if err := s.actions.Log(ctx, sessionID, actionType, data); err != nil {
		s.logger.Error(ctx, "action log failed", "action_type", actionType, "error", err)
	}
}

// logOnly builds a handler that records the message payload as an action and
// does nothing else.
func (s *Server) logOnly(actionType string) hub.Handler {
	return func(ctx context.Context, msg hub.Envelope) error {
		var data map[string]any
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &data); err != nil {
				return fmt.Errorf("%s payload: %w", msg.Type, err)
			}
		}
		s.log(ctx, actionType, data)
		return nil
	}
}

type pathPayload struct {
	Path string `json:"path"`
}

func (s *Server) handleFileOpen(ctx context.Context, msg hub.Envelope) error {
	var p pathPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}

	content, err := s.ws.ReadFile(p.Path)
	if err != nil {
		s.sendFileError(p.Path, err)
		return err
	}

	// Reopening an already-open tab is a tab switch, not a file open.
	actionType := models.ActionFileOpen
	for _, tab := range s.sessions.OpenFiles() {
		if tab == p.Path {
			actionType = models.ActionTabSwitch
			break
		}
	}
	s.sessions.FileOpened(p.Path)
	s.log(ctx, actionType, map[string]any{"path": p.Path})

	s.hub.Broadcast(hub.MsgBufferContent, map[string]any{
		"path":    p.Path,
		"content": content,
	})
	return nil
}

func (s *Server) handleFileClose(ctx context.Context, msg hub.Envelope) error {
	var p pathPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}
	s.sessions.FileClosed(p.Path)
	s.log(ctx, models.ActionFileClose, map[string]any{"path": p.Path})
	return nil
}

func (s *Server) handleFileSave(ctx context.Context, msg hub.Envelope) error {
	var p pathPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}
	s.buffers.MarkSaved(p.Path)
	s.log(ctx, models.ActionFileSave, map[string]any{"path": p.Path})
	s.hub.Broadcast(hub.MsgSaveAck, map[string]any{"path": p.Path})
	return nil
}

func (s *Server) handleBufferUpdate(ctx context.Context, msg hub.Envelope) error {
	var p struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}
	sessionID, ok := s.activeSession()
	if !ok {
		return nil
	}
	// The cache logs significant changes itself; routine keystrokes stay out
	// of the action log and surface later as buffer summaries.
	return s.buffers.Update(ctx, sessionID, p.Path, p.Content)
}

func (s *Server) handleEditorCursor(_ context.Context, msg hub.Envelope) error {
	var p struct {
		Path string       `json:"path"`
		Pos  models.Range `json:"pos"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}
	s.sessions.SetCursor(p.Path, p.Pos)
	return nil
}

func (s *Server) handleEditorScroll(_ context.Context, msg hub.Envelope) error {
	var p struct {
		Path string `json:"path"`
		Line int    `json:"line"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}
	s.sessions.SetScroll(p.Path, p.Line)
	return nil
}

func (s *Server) handleHintLevelChange(ctx context.Context, msg hub.Envelope) error {
	var p struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}
	previous := s.sessions.HintLevel()
	s.sessions.SetHintLevel(p.Level)
	s.log(ctx, models.ActionHintLevelChange, map[string]any{
		"from": previous,
		"to":   p.Level,
	})
	return nil
}

func (s *Server) handleUserExplain(ctx context.Context, msg hub.Envelope) error {
	var req coaching.ExplainRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return err
	}
	sessionID, ok := s.activeSession()
	if !ok {
		return nil
	}
	s.log(ctx, models.ActionUserExplainRequest, map[string]any{"path": req.Path})

	// The model call is slow; run it off the dispatch goroutine.
	go func() {
		bgCtx := context.WithoutCancel(ctx)
		if _, err := s.pipeline.Explain(bgCtx, sessionID, req); err != nil {
			s.logger.Error(bgCtx, "explain failed", "session_id", sessionID, "error", err)
			s.hub.Broadcast(hub.MsgErrorGeneral, map[string]any{"message": "explanation failed"})
		}
	}()
	return nil
}

func (s *Server) handleUserReview(ctx context.Context, msg hub.Envelope) error {
	var p struct {
		Scope string `json:"scope"`
		Path  string `json:"path,omitempty"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}
	sessionID, ok := s.activeSession()
	if !ok {
		return nil
	}
	s.log(ctx, models.ActionUserReviewRequest, map[string]any{"scope": p.Scope})

	input := review.Input{
		SessionID:      sessionID,
		Scope:          review.Scope(p.Scope),
		ActiveFilePath: p.Path,
		OpenFilePaths:  s.sessions.OpenFiles(),
	}

	go func() {
		bgCtx := context.WithoutCancel(ctx)
		if _, err := s.pipeline.Review(bgCtx, input); err != nil {
			s.logger.Error(bgCtx, "review failed", "session_id", sessionID, "error", err)
			s.hub.Broadcast(hub.MsgErrorGeneral, map[string]any{"message": "review failed"})
		}
	}()
	return nil
}

func (s *Server) handleStatsPeriod(ctx context.Context, msg hub.Envelope) error {
	var p struct {
		Period string `json:"period"`
	}
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return err
	}

	var since time.Time
	now := time.Now().UTC()
	switch p.Period {
	case "day":
		since = now.AddDate(0, 0, -1)
	case "month":
		since = now.AddDate(0, -1, 0)
	default:
		p.Period = "week"
		since = now.AddDate(0, 0, -7)
	}

	stats, err := s.stats.StatsSince(ctx, since)
	if err != nil {
		return err
	}
	s.hub.Broadcast(hub.MsgDashboardStats, map[string]any{
		"period": p.Period,
		"stats":  stats,
	})
	return nil
}

func (s *Server) sendFileError(path string, err error) {
	switch {
	case errors.Is(err, workspace.ErrOutsideRoot), errors.Is(err, os.ErrPermission):
		s.hub.Broadcast(hub.MsgErrorPermissionDenied, map[string]any{"path": path})
	case errors.Is(err, os.ErrNotExist):
		s.hub.Broadcast(hub.MsgErrorFileNotFound, map[string]any{"path": path})
	default:
		s.hub.Broadcast(hub.MsgErrorGeneral, map[string]any{
			"path":    path,
			"message": err.Error(),
		})
	}
}
