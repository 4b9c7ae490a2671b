package mailerlite

import "errors"

var (
	ErrNotConfigured     = errors.New("mailerlite API key not configured")
	ErrUnauthenticated   = errors.New("mailerlite rejected the API key")
	ErrUnreachable       = errors.New("mailerlite API unreachable")
	ErrMalformedResponse = errors.New("malformed mailerlite response")
	ErrRateLimited       = errors.New("rate limited by mailerlite")
	ErrInvalidSubscriber = errors.New("subscriber rejected by mailerlite")
)
