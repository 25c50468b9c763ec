package session

import (
	"errors"
	"net/http"
)

// Session error taxonomy. All of these are recoverable at the request
// boundary: the operation is rejected with a reason and the session keeps
// running.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session has ended")
	ErrForbidden        = errors.New("host privileges required")
	ErrAnonymousHost    = errors.New("anonymous participants cannot host")
	ErrOutOfRange       = errors.New("question index out of range")
	ErrNotInQuestion    = errors.New("no question is currently open")
	ErrStaleQuestion    = errors.New("submission does not match the current question")
	ErrAlreadyAnswered  = errors.New("participant already answered this question")
	ErrParticipantGone  = errors.New("participant not in session")
	ErrPollNotFound     = errors.New("poll not found")
	ErrPollClosed       = errors.New("poll is no longer active")
	ErrInvalidOption    = errors.New("option is not part of this poll")
	ErrQANotFound       = errors.New("question not found in queue")
	ErrQADisabled       = errors.New("Q&A is disabled for this activity")
	ErrEmptyText        = errors.New("text must not be empty")
	ErrTextTooLong      = errors.New("text exceeds the allowed length")
	ErrOptionCount      = errors.New("polls need between 2 and 6 options")
	ErrInvalidDuration  = errors.New("poll duration must be positive")
	ErrNicknameRequired = errors.New("nickname is required")
	ErrAnonymousJoin    = errors.New("this activity does not allow anonymous participants")
)

// HTTPStatus maps a session error onto the status code the REST surface
// reports. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrPollNotFound),
		errors.Is(err, ErrQANotFound),
		errors.Is(err, ErrParticipantGone):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrAnonymousHost), errors.Is(err, ErrAnonymousJoin):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyAnswered):
		return http.StatusConflict
	case errors.Is(err, ErrSessionEnded),
		errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrNotInQuestion),
		errors.Is(err, ErrStaleQuestion),
		errors.Is(err, ErrPollClosed),
		errors.Is(err, ErrQADisabled):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmptyText),
		errors.Is(err, ErrTextTooLong),
		errors.Is(err, ErrOptionCount),
		errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrInvalidOption),
		errors.Is(err, ErrNicknameRequired):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// Code returns the short machine-readable code carried on socket error events.
func Code(err error) string {
	switch HTTPStatus(err) {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation"
	case http.StatusBadRequest:
		return "invalid_state"
	}
	return "internal"
}
