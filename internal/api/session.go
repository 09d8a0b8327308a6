package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/lumi/internal/domain"
)

type startSessionRequest struct {
	StoryID   string  `json:"story_id"`
	ChapterID string  `json:"chapter_id"`
	SceneID   *string `json:"scene_id"`
}

type inputRequest struct {
	Text string `json:"text"`
}

type modeRequest struct {
	Mode         domain.InputMode `json:"mode"`
	PartialInput *string          `json:"partial_input"`
}

// sessionResponse always carries the record so clients can show lastResponse
// even when the call failed.
type sessionResponse struct {
	Session *domain.SessionRecord `json:"session"`
	Error   string                `json:"error,omitempty"`
}

func writeSession(w http.ResponseWriter, r *http.Request, rec *domain.SessionRecord, err error) {
	if err == nil {
		JSON(w, http.StatusOK, sessionResponse{Session: rec})
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError && !isModelError(err) {
		writeErr(w, r, err)
		return
	}
	JSON(w, status, sessionResponse{Session: rec, Error: err.Error()})
}

func isModelError(err error) bool {
	return errors.Is(err, domain.ErrModelUnavailable) || errors.Is(err, domain.ErrModelExecution)
}

// GetSession reloads the last persisted session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := h.manager(r).GetCurrentState(r.Context())
	writeSession(w, r, rec, err)
}

// StartSession selects the active story, chapter and optional scene.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StoryID == "" || req.ChapterID == "" {
		Error(w, http.StatusBadRequest, "story_id and chapter_id are required")
		return
	}
	rec, err := h.manager(r).StartSession(r.Context(), req.StoryID, req.ChapterID, req.SceneID)
	writeSession(w, r, rec, err)
}

// StartInterview asks the first question for the active scene.
func (h *Handler) StartInterview(w http.ResponseWriter, r *http.Request) {
	rec, err := h.manager(r).StartInterview(r.Context(), nil)
	writeSession(w, r, rec, err)
}

// HandleInput submits a typed answer.
func (h *Handler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.manager(r).HandleUserInput(r.Context(), req.Text, nil)
	writeSession(w, r, rec, err)
}

// PauseSession persists the live session.
func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	m := h.manager(r)
	if err := m.PauseSession(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
}

// SetInputMode switches between voice and text and keeps unfinished input.
func (h *Handler) SetInputMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.manager(r)
	if req.Mode != "" {
		if err := m.SetInputMode(req.Mode); err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.PartialInput != nil {
		m.SetPartialInput(*req.PartialInput)
	}
	JSON(w, http.StatusOK, sessionResponse{Session: m.Snapshot()})
}

// GetUserContext returns the personalization used in prompts.
func (h *Handler) GetUserContext(w http.ResponseWriter, r *http.Request) {
	uc, err := h.manager(r).UserContext(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, uc)
}

// PutUserContext replaces the personalization wholesale.
func (h *Handler) PutUserContext(w http.ResponseWriter, r *http.Request) {
	var uc domain.UserContext
	if !decode(w, r, &uc) {
		return
	}
	saved, err := h.manager(r).UpdateUserContext(r.Context(), uc)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, saved)
}
