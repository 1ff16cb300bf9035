package roundup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountGateway resolves accounts and balances.
type AccountGateway interface {
	// ListAccounts returns the user's accounts in the order the upstream
	// reports them. A null or malformed response wraps ErrMalformedResponse.
	ListAccounts(ctx context.Context) ([]Account, error)

	// EffectiveBalance returns the current effective balance of the account.
	EffectiveBalance(ctx context.Context, accountID uuid.UUID) (Balance, error)
}

// GoalGateway resolves savings goals and moves money into them.
type GoalGateway interface {
	// ListGoals returns all savings goals of the account.
	ListGoals(ctx context.Context, accountID uuid.UUID) ([]SavingsGoal, error)

	// CreateGoal creates a new savings goal and returns it.
	CreateGoal(ctx context.Context, accountID uuid.UUID, name, currency string, targetMinorUnits int64) (SavingsGoal, error)

	// Transfer moves amountMinorUnits into the goal. token is the idempotency
	// token the downstream API uses to de-duplicate repeated requests.
	Transfer(ctx context.Context, accountID, goalID, token uuid.UUID, amountMinorUnits int64) (Transfer, error)
}

// TransactionGateway fetches feed items.
type TransactionGateway interface {
	// FetchBetween returns the feed items of a category with a transaction
	// time in [from, to].
	FetchBetween(ctx context.Context, accountID, categoryID uuid.UUID, from, to time.Time) ([]FeedItem, error)
}
