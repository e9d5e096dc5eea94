package chessdto

import "errors"

// ErrMalformed marks an inbound frame that failed decoding or shape validation.
var ErrMalformed = errors.New("malformed message")

// DomainError is the payload of an error event. Code is one of the domain error codes.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "pvp service error"
}
