package cuenc

import "errors"

// Errors returned by the encoder. They are distinct values checkable with
// errors.Is; returned errors wrap them with detail.
var (
	// ErrInvalidConfig reports options rejected before any encoding.
	ErrInvalidConfig = errors.New("cuenc: invalid configuration")
	// ErrResource reports a picture that could not be coded because
	// memory or another resource ran out. No partial output is produced.
	ErrResource = errors.New("cuenc: resource exhausted")
	// ErrSyncTimeout reports a wavefront wait that exceeded
	// Options.SyncTimeout.
	ErrSyncTimeout = errors.New("cuenc: row sync timeout")
	// ErrAborted reports a picture abandoned because its context ended.
	ErrAborted = errors.New("cuenc: encode aborted")
	// ErrFrameSize reports an input frame that does not match the
	// configured geometry.
	ErrFrameSize = errors.New("cuenc: frame size mismatch")
	// ErrClosed reports use of a closed encoder.
	ErrClosed = errors.New("cuenc: encoder closed")
)
