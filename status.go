package amb

import "fmt"

// Status is the completion code of a bus transaction.
type Status int

const (
	StatusNoError Status = iota
	StatusContinue
	StatusBadCommand
	StatusBadChannel
	StatusUnknownDevice
	StatusInitFailed
	StatusWriteError
	StatusReadError
	StatusFlushed
	StatusTimeout
	StatusResponseFIFOError
	StatusNoMemory
	StatusPending
	StatusAddressError
)

var statusNames = [...]string{
	StatusNoError:           "no error",
	StatusContinue:          "continue",
	StatusBadCommand:        "bad command",
	StatusBadChannel:        "bad channel",
	StatusUnknownDevice:     "unknown device",
	StatusInitFailed:        "init failed",
	StatusWriteError:        "write error",
	StatusReadError:         "read error",
	StatusFlushed:           "flushed",
	StatusTimeout:           "timeout",
	StatusResponseFIFOError: "response fifo error",
	StatusNoMemory:          "no memory",
	StatusPending:           "pending",
	StatusAddressError:      "address error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// Error makes a Status usable as an error value, so callers can test
// failures with errors.Is(err, amb.StatusTimeout).
func (s Status) Error() string {
	return "amb: " + s.String()
}

// Err returns nil for StatusNoError and the status itself otherwise.
func (s Status) Err() error {
	if s == StatusNoError {
		return nil
	}
	return s
}
