package shadow

import "errors"

var (
	// ErrStoreUnavailable means the store could not be opened or read — a bad
	// decryption key or an unreachable file. Fatal to the caller; no partial
	// sync proceeds.
	ErrStoreUnavailable = errors.New("shadow store unavailable")

	// ErrMalformedRecord marks a single contact record that failed validation
	// or encoding. Sync passes skip and log these; they never abort a batch.
	ErrMalformedRecord = errors.New("malformed contact record")
)
