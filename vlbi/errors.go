package vlbi

import "errors"

var (
	ErrBCD              = errors.New("invalid binary-coded decimal")
	ErrFieldSpec        = errors.New("invalid header field specification")
	ErrUnknownField     = errors.New("unknown header field")
	ErrNoDefault        = errors.New("header field has no default")
	ErrValueRange       = errors.New("value does not fit in header field")
	ErrFrozen           = errors.New("header is frozen")
	ErrValidation       = errors.New("validation failed")
	ErrUnsupportedCodec = errors.New("no codec for bits per sample and complex combination")
	ErrUnsupportedRatio = errors.New("cannot slice payload with this bits per sample to word ratio")
	ErrShape            = errors.New("shape mismatch")
	ErrIndex            = errors.New("index out of range")
)
