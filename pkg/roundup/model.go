package roundup

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// GoalName is the name of the savings goal that receives round-ups.
	// Goals are matched by exact name.
	GoalName = "Round Up Savings"

	// DefaultGoalTargetMinorUnits is the target used when the goal has to be created (1000.00).
	DefaultGoalTargetMinorUnits int64 = 100000

	// DefaultCurrency is the currency used for goal creation and transfers.
	DefaultCurrency = "GBP"

	// MinorUnitsPerMajor is the number of minor units (pence) in one whole currency unit.
	MinorUnitsPerMajor int64 = 100
)

// Direction is the direction of a feed item relative to the account.
type Direction string

const (
	// DirectionIn is money received by the account.
	DirectionIn Direction = "IN"
	// DirectionOut is money spent from the account.
	DirectionOut Direction = "OUT"
)

// Account is a customer account as returned by the account gateway.
// DefaultCategoryID is uuid.Nil when the gateway did not report one.
type Account struct {
	ID                uuid.UUID
	DefaultCategoryID uuid.UUID
	Type              string
	Currency          string
}

// HasDefaultCategory reports whether the account carries a default category.
func (a Account) HasDefaultCategory() bool {
	return a.DefaultCategoryID != uuid.Nil
}

// Balance is a point-in-time snapshot of an account balance.
// It is fetched fresh for every run and must never be cached.
type Balance struct {
	EffectiveMinorUnits int64
	Currency            string
}

// FeedItem is one transaction in the lookback window.
type FeedItem struct {
	ID               uuid.UUID
	CategoryID       uuid.UUID
	AmountMinorUnits int64
	Currency         string
	Direction        Direction
	TransactionTime  time.Time
	SettlementTime   time.Time
	UpdatedAt        time.Time
	Source           string
	Status           string
}

// SavingsGoal is a named destination balance inside an account.
type SavingsGoal struct {
	ID               uuid.UUID
	Name             string
	Currency         string
	TargetMinorUnits int64
	SavedMinorUnits  int64
}

// Transfer is the confirmation returned by the goal gateway after money was moved.
type Transfer struct {
	TransferID string
}

// FormatMinorUnits renders an amount in minor units as a fixed two-place
// major-unit string, e.g. 50 -> "0.50" and -1234 -> "-12.34".
func FormatMinorUnits(minorUnits int64) string {
	return decimal.New(minorUnits, -2).StringFixed(2)
}
