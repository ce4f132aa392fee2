package terminal

import "errors"

// Error taxonomy for terminal operations. Auth and timeout failures are
// scoped to a single account and must never abort a refresh sweep;
// ErrUnavailable means the terminal library itself is down and the whole
// sweep has to wait for the next cycle.
var (
	// ErrAuth is returned when the terminal rejects the supplied credentials.
	ErrAuth = errors.New("terminal: authentication rejected")

	// ErrUnavailable is returned when the underlying terminal process or
	// client library is not initialized.
	ErrUnavailable = errors.New("terminal: backend unavailable")

	// ErrTimeout is returned when a call exceeded its bounded wait.
	ErrTimeout = errors.New("terminal: request timed out")

	// ErrNoLogin is returned by FetchSnapshot/FetchLedger when no account
	// is currently logged in on the connection.
	ErrNoLogin = errors.New("terminal: no account logged in")
)

// IsAccountScoped reports whether err is isolated to a single account.
// Account-scoped failures are recorded and the sweep moves on; anything
// else is fatal for the current cycle.
func IsAccountScoped(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrNoLogin)
}
