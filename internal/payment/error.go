package payment

import "github.com/go-faster/errors"

var (
	ErrMalformedEvent = errors.New("malformed webhook event")
	ErrEmptySessionID = errors.New("session id is required")
)
