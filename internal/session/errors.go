package session

import "errors"

var (
	// ErrRecordingUnsupported is fatal to StartSession and never retried.
	ErrRecordingUnsupported = errors.New("recording unsupported in this environment")
	ErrCaptureStartFailure  = errors.New("capture start failed")
	ErrFinalizeTimeout      = errors.New("timed out waiting for slice capture to complete")
	ErrSessionAlreadyActive = errors.New("a transcription session is already active in this guild")
	ErrNoActiveSession      = errors.New("no active transcription session in this guild")
	ErrConnectFailed        = errors.New("failed to connect to voice channel")
)

var (
	ErrInvalidDisplayName = errors.New("display name must be 1-32 characters")
	ErrInvalidLanguage    = errors.New("invalid language code")
)
