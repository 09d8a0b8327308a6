package domain

import "errors"

var (
	// ErrModelUnavailable means no language model is loaded or reachable.
	ErrModelUnavailable = errors.New("language model unavailable")
	// ErrModelExecution means the model was reachable but the prompt failed.
	ErrModelExecution = errors.New("language model execution failed")
	// ErrRecognitionAuthorizationDenied means the device refused microphone or speech access.
	ErrRecognitionAuthorizationDenied = errors.New("speech recognition authorization denied")
	// ErrRecognitionEngine means the recognizer failed for any other reason.
	ErrRecognitionEngine = errors.New("speech recognition engine error")
	// ErrSynthesis means speech synthesis failed.
	ErrSynthesis = errors.New("speech synthesis error")
	// ErrSceneNotFound means the referenced scene does not exist.
	ErrSceneNotFound = errors.New("scene not found")
	// ErrSessionNotActive means the operation needs an active session with a scene.
	ErrSessionNotActive = errors.New("session not active")
	// ErrSessionBusy means another call is already in flight for the session.
	ErrSessionBusy = errors.New("session busy")
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReference means a chapter or scene does not belong to the given ancestor.
	ErrInvalidReference = errors.New("invalid reference")
)
