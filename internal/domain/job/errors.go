package job

import "errors"

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidDirection = errors.New("invalid job direction")
	ErrInvalidAction    = errors.New("invalid job action")
	ErrMissingModule    = errors.New("job module is required")
	ErrMissingEntity    = errors.New("job entity type is required")
	ErrMissingTarget    = errors.New("job needs a local or remote id")
	ErrPayloadTooLarge  = errors.New("job payload exceeds 1 MiB")
	ErrInvalidPayload   = errors.New("job payload is not valid json")
)
