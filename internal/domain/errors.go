package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrTemplateNotFound = fmt.Errorf("%w: template not found", ErrValidation)
	ErrAuth             = errors.New("authentication error")
	ErrInvalidState     = errors.New("invalid oauth state")
	ErrUpstreamStore    = errors.New("state store error")
	ErrUpstreamOAuth    = errors.New("oauth provider error")
	ErrUpstreamEngine   = errors.New("workflow engine error")
)

var (
	ErrOAuthStateNotFound        = errors.New("oauth state not found")
	ErrOAuthStateExists          = errors.New("oauth state already exists")
	ErrIntegrationTokensNotFound = errors.New("integration tokens not found")
)

type ErrorKind string

const (
	ErrorKindValidation     ErrorKind = "validation_error"
	ErrorKindAuth           ErrorKind = "auth_error"
	ErrorKindInvalidState   ErrorKind = "invalid_state"
	ErrorKindUpstreamStore  ErrorKind = "upstream_store_error"
	ErrorKindUpstreamOAuth  ErrorKind = "upstream_oauth_error"
	ErrorKindUpstreamEngine ErrorKind = "upstream_engine_error"
	ErrorKindInternal       ErrorKind = "internal_error"
)

// KindOf classifies err. Errors carrying more than one sentinel resolve to
// the first match in the order below.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidState):
		return ErrorKindInvalidState
	case errors.Is(err, ErrAuth):
		return ErrorKindAuth
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrUpstreamOAuth):
		return ErrorKindUpstreamOAuth
	case errors.Is(err, ErrUpstreamEngine):
		return ErrorKindUpstreamEngine
	case errors.Is(err, ErrUpstreamStore):
		return ErrorKindUpstreamStore
	default:
		return ErrorKindInternal
	}
}
