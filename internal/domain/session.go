package domain

import "time"

// InputMode is how the author is answering questions.
type InputMode string

const (
	// InputModeText is typed input.
	InputModeText InputMode = "text"
	// InputModeVoice is speech recognized on the author's device.
	InputModeVoice InputMode = "voice"
)

// Valid reports whether m is a known input mode.
func (m InputMode) Valid() bool {
	return m == InputModeText || m == InputModeVoice
}

// SessionState is the coarse lifecycle state of a session.
type SessionState string

const (
	// SessionUninitialized means no story/chapter has been selected yet.
	SessionUninitialized SessionState = "uninitialized"
	// SessionActive means the session has active pointers and accepts input.
	SessionActive SessionState = "active"
	// SessionError means the last storage interaction failed.
	SessionError SessionState = "error"
)

// SessionRecord is the single live session of a user. It is loaded at
// startup and persisted on pause. PendingQuestion is the last question asked
// on the active scene; LastResponse may instead hold an error message.
type SessionRecord struct {
	UserID          string       `json:"user_id"`
	State           SessionState `json:"state"`
	ActiveStoryID   *string      `json:"active_story_id,omitempty"`
	ActiveChapterID *string      `json:"active_chapter_id,omitempty"`
	ActiveSceneID   *string      `json:"active_scene_id,omitempty"`
	InputMode       InputMode    `json:"input_mode"`
	PartialInput    string       `json:"partial_input,omitempty"`
	LastResponse    string       `json:"last_response,omitempty"`
	IsAwaitingInput bool         `json:"is_awaiting_input"`
	PendingQuestion string       `json:"pending_question,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewSessionRecord returns an uninitialized text-mode record for a user.
func NewSessionRecord(userID string) *SessionRecord {
	return &SessionRecord{
		UserID:    userID,
		State:     SessionUninitialized,
		InputMode: InputModeText,
	}
}

// ClearPending drops the awaiting state and the question it refers to.
func (r *SessionRecord) ClearPending() {
	r.IsAwaitingInput = false
	r.PendingQuestion = ""
}

// HasActiveScene reports whether a scene is currently selected.
func (r *SessionRecord) HasActiveScene() bool {
	return r != nil && r.ActiveSceneID != nil && *r.ActiveSceneID != ""
}

// Clone returns a deep copy so callers never share pointer fields.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ActiveStoryID = clonePtr(r.ActiveStoryID)
	c.ActiveChapterID = clonePtr(r.ActiveChapterID)
	c.ActiveSceneID = clonePtr(r.ActiveSceneID)
	return &c
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
