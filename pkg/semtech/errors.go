package semtech

import "errors"

// Error classes returned by the codec. Every error returned by this package
// wraps exactly one of them, use errors.Is to tell them apart.
var (
	// ErrFormat is returned for a wrong buffer length, protocol version or
	// packet identifier.
	ErrFormat = errors.New("semtech: format error")

	// ErrValue is returned for malformed field values and JSON payloads
	// that fail to decode.
	ErrValue = errors.New("semtech: value error")

	// ErrMissingField is returned when a field required by the translation
	// is absent, or when modulation and datarate disagree.
	ErrMissingField = errors.New("semtech: missing field")
)
