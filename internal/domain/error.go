package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrForbidden          = errors.New("caller does not own this resource")
	ErrUnauthenticated    = errors.New("missing or invalid credentials")
	ErrRateLimited        = errors.New("too many requests")
	ErrQueueFull          = errors.New("worker queue full")
	ErrLockHeld           = errors.New("lock is held by another owner")

	// Job lifecycle
	ErrInvalidVideoURL   = errors.New("invalid video url")
	ErrJobInFlight       = errors.New("a job for this video is already in progress")
	ErrJobTerminal       = errors.New("job already reached a terminal state")
	ErrInvalidTransition = errors.New("invalid job status transition")

	// Pipeline stages
	ErrDownload               = errors.New("download failed")
	ErrAudioExtraction        = errors.New("audio extraction failed")
	ErrAudioExtractionTimeout = errors.New("audio extraction timed out")
	ErrTranscriptionSubmit    = errors.New("transcription submit failed")
	ErrTranscriptionStatus    = errors.New("transcription status request failed")
	ErrTranscriptionTimeout   = errors.New("transcription timed out")
	ErrTranscriptionFailed    = errors.New("transcription failed")
	ErrGuideStructure         = errors.New("guide structure could not be parsed")
	ErrGuideGeneration        = errors.New("guide generation failed")
)

// Kind classifies an Error for callers that map failures onto transport codes.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindUpstream      Kind = "upstream"
	KindTimeout       Kind = "timeout"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindRateLimited   Kind = "rate_limited"
	KindUnavailable   Kind = "unavailable"
	KindInternal      Kind = "internal"
)

// Error is a tagged failure. Msg is safe to show to the end user; Err keeps the
// cause chain for logs and errors.Is / errors.As.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a tagged error. cause may be nil.
func E(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Wrap tags cause with a sentinel so both stay reachable through errors.Is.
func Wrap(kind Kind, op, msg string, sentinel, cause error) *Error {
	if cause == nil {
		return E(kind, op, msg, sentinel)
	}
	return E(kind, op, msg, errors.Join(sentinel, cause))
}

// KindOf reports the Kind of the first tagged error in the chain. Untagged
// sentinels are classified too so repositories can keep returning plain values.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrUnauthenticated):
		return KindAuthorization
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidVideoURL):
		return KindValidation
	case errors.Is(err, ErrJobInFlight), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrJobTerminal):
		return KindConflict
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrQueueFull):
		return KindUnavailable
	}
	return KindInternal
}

// UserMessage returns the message that may be persisted on a job or shown to a
// client. Untagged errors fall back to their full text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) && de.Msg != "" {
		return de.Msg
	}
	return err.Error()
}
