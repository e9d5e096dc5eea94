package domain

import "errors"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrGameNotFound  = errors.New("game not found")
	ErrGameNotActive = errors.New("game not active")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrIllegalMove   = errors.New("illegal move")
	ErrPersistence   = errors.New("persistence failure")
	ErrSettlement    = errors.New("settlement failure")
)

// Error codes used on the wire and in logs.
const (
	CodeUnauthorized  = "unauthorized"
	CodeGameNotFound  = "game_not_found"
	CodeGameNotActive = "game_not_active"
	CodeNotYourTurn   = "not_your_turn"
	CodeIllegalMove   = "illegal_move"
	CodePersistence   = "persistence_failure"
	CodeSettlement    = "settlement_failure"
	CodeMalformed     = "malformed"
	CodeInternal      = "internal"
)

// Code maps an error onto its taxonomy code. Settlement is checked first since
// settlement failures may also wrap a persistence error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSettlement):
		return CodeSettlement
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrGameNotFound):
		return CodeGameNotFound
	case errors.Is(err, ErrGameNotActive):
		return CodeGameNotActive
	case errors.Is(err, ErrNotYourTurn):
		return CodeNotYourTurn
	case errors.Is(err, ErrIllegalMove):
		return CodeIllegalMove
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

// Retryable reports whether the client may resend the same request.
func Retryable(err error) bool {
	switch Code(err) {
	case CodePersistence, CodeSettlement, CodeInternal:
		return true
	}
	return false
}
