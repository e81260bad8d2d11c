package workflow

import "errors"

var (
	// ErrHistoryCorrupt reports an event history that cannot be folded: a
	// sequence gap, an event after a terminal event, or an unknown kind.
	ErrHistoryCorrupt = errors.New("event history is corrupt")

	// ErrUnknownInstance reports a task referring to an instance with no
	// recorded history.
	ErrUnknownInstance = errors.New("unknown workflow instance")

	// ErrInvalidInput reports a start input rejected by the definition's
	// input schema.
	ErrInvalidInput = errors.New("invalid workflow input")
)

// IsHistoryCorrupt checks if the error reports an unfoldable history.
func IsHistoryCorrupt(err error) bool {
	return errors.Is(err, ErrHistoryCorrupt)
}

// IsUnknownInstance checks if the error reports a missing instance.
func IsUnknownInstance(err error) bool {
	return errors.Is(err, ErrUnknownInstance)
}

// IsInvalidInput checks if the error reports a rejected start input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
