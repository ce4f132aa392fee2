package terminal

import (
	"context"
	"time"
)

// DefaultLedgerLookback bounds FetchLedger result size and terminal load.
const DefaultLedgerLookback = 90 * 24 * time.Hour

// Session defines the operations available on the single terminal
// connection. Calling Login for a different account implicitly logs out
// the previous one; this is a hard constraint of the terminal, not a
// design choice. FetchSnapshot and FetchLedger operate on whichever
// account is currently logged in and return ErrNoLogin otherwise.
//
// Session implementations are NOT safe for concurrent use. The refresh
// scheduler is the sole owner of the live session.
type Session interface {
	Login(ctx context.Context, accountID int64, creds Credentials) error
	FetchSnapshot(ctx context.Context) (AccountSnapshot, error)
	FetchLedger(ctx context.Context, since time.Time) ([]LedgerEntry, error)

	// CurrentAccount returns the account currently logged in, or 0.
	CurrentAccount() int64

	Close() error
}
