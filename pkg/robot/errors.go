package robot

import "errors"

// Error taxonomy for arm hardware. Callers classify faults with errors.Is;
// constructors and bus implementations wrap these with context.
var (
	// ErrConnection means a channel could not be opened. Fatal to that
	// arm's session and never retried.
	ErrConnection = errors.New("connection error")

	// ErrCommunication means a single read/write transaction failed after
	// the channel was open. Recoverable per iteration; the caller decides
	// whether to retry the next iteration.
	ErrCommunication = errors.New("communication error")

	// ErrInsufficientRange means a joint's observed range during
	// calibration capture is too small to finalize.
	ErrInsufficientRange = errors.New("insufficient calibration range")

	// ErrUnsupportedCapability means an optional operation was invoked on
	// hardware that lacks it. A configuration error; fails fast.
	ErrUnsupportedCapability = errors.New("unsupported capability")
)
