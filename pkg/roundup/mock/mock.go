package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"roundup/pkg/roundup"
)

// Gateway is a mock implementation of the account, goal and transaction
// gateways for testing. It allows injecting custom behavior for each method
// and tracks call counts.
type Gateway struct {
	// Function hooks - set these to customize behavior
	ListAccountsFunc     func(ctx context.Context) ([]roundup.Account, error)
	EffectiveBalanceFunc func(ctx context.Context, accountID uuid.UUID) (roundup.Balance, error)
	ListGoalsFunc        func(ctx context.Context, accountID uuid.UUID) ([]roundup.SavingsGoal, error)
	CreateGoalFunc       func(ctx context.Context, accountID uuid.UUID, name, currency string, targetMinorUnits int64) (roundup.SavingsGoal, error)
	TransferFunc         func(ctx context.Context, accountID, goalID, token uuid.UUID, amountMinorUnits int64) (roundup.Transfer, error)
	FetchBetweenFunc     func(ctx context.Context, accountID, categoryID uuid.UUID, from, to time.Time) ([]roundup.FeedItem, error)

	// Call tracking (must use atomic operations for race-free access)
	listAccountsCalls     int64
	effectiveBalanceCalls int64
	listGoalsCalls        int64
	createGoalCalls       int64
	transferCalls         int64
	fetchBetweenCalls     int64
}

var (
	_ roundup.AccountGateway     = (*Gateway)(nil)
	_ roundup.GoalGateway        = (*Gateway)(nil)
	_ roundup.TransactionGateway = (*Gateway)(nil)
)

// ListAccounts implements AccountGateway.ListAccounts with optional custom behavior.
func (m *Gateway) ListAccounts(ctx context.Context) ([]roundup.Account, error) {
	atomic.AddInt64(&m.listAccountsCalls, 1)
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx)
	}
	return nil, nil
}

// EffectiveBalance implements AccountGateway.EffectiveBalance with optional custom behavior.
func (m *Gateway) EffectiveBalance(ctx context.Context, accountID uuid.UUID) (roundup.Balance, error) {
	atomic.AddInt64(&m.effectiveBalanceCalls, 1)
	if m.EffectiveBalanceFunc != nil {
		return m.EffectiveBalanceFunc(ctx, accountID)
	}
	return roundup.Balance{}, nil
}

// ListGoals implements GoalGateway.ListGoals with optional custom behavior.
func (m *Gateway) ListGoals(ctx context.Context, accountID uuid.UUID) ([]roundup.SavingsGoal, error) {
	atomic.AddInt64(&m.listGoalsCalls, 1)
	if m.ListGoalsFunc != nil {
		return m.ListGoalsFunc(ctx, accountID)
	}
	return nil, nil
}

// CreateGoal implements GoalGateway.CreateGoal with optional custom behavior.
func (m *Gateway) CreateGoal(ctx context.Context, accountID uuid.UUID, name, currency string, targetMinorUnits int64) (roundup.SavingsGoal, error) {
	atomic.AddInt64(&m.createGoalCalls, 1)
	if m.CreateGoalFunc != nil {
		return m.CreateGoalFunc(ctx, accountID, name, currency, targetMinorUnits)
	}
	return roundup.SavingsGoal{}, nil
}

// Transfer implements GoalGateway.Transfer with optional custom behavior.
func (m *Gateway) Transfer(ctx context.Context, accountID, goalID, token uuid.UUID, amountMinorUnits int64) (roundup.Transfer, error) {
	atomic.AddInt64(&m.transferCalls, 1)
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, accountID, goalID, token, amountMinorUnits)
	}
	return roundup.Transfer{}, nil
}

// FetchBetween implements TransactionGateway.FetchBetween with optional custom behavior.
func (m *Gateway) FetchBetween(ctx context.Context, accountID, categoryID uuid.UUID, from, to time.Time) ([]roundup.FeedItem, error) {
	atomic.AddInt64(&m.fetchBetweenCalls, 1)
	if m.FetchBetweenFunc != nil {
		return m.FetchBetweenFunc(ctx, accountID, categoryID, from, to)
	}
	return nil, nil
}

// ListAccountsCalls returns the number of ListAccounts calls (thread-safe).
func (m *Gateway) ListAccountsCalls() int {
	return int(atomic.LoadInt64(&m.listAccountsCalls))
}

// EffectiveBalanceCalls returns the number of EffectiveBalance calls (thread-safe).
func (m *Gateway) EffectiveBalanceCalls() int {
	return int(atomic.LoadInt64(&m.effectiveBalanceCalls))
}

// ListGoalsCalls returns the number of ListGoals calls (thread-safe).
func (m *Gateway) ListGoalsCalls() int {
	return int(atomic.LoadInt64(&m.listGoalsCalls))
}

// CreateGoalCalls returns the number of CreateGoal calls (thread-safe).
func (m *Gateway) CreateGoalCalls() int {
	return int(atomic.LoadInt64(&m.createGoalCalls))
}

// TransferCalls returns the number of Transfer calls (thread-safe).
func (m *Gateway) TransferCalls() int {
	return int(atomic.LoadInt64(&m.transferCalls))
}

// FetchBetweenCalls returns the number of FetchBetween calls (thread-safe).
func (m *Gateway) FetchBetweenCalls() int {
	return int(atomic.LoadInt64(&m.fetchBetweenCalls))
}

// ResetCalls resets all call counters to zero.
func (m *Gateway) ResetCalls() {
	atomic.StoreInt64(&m.listAccountsCalls, 0)
	atomic.StoreInt64(&m.effectiveBalanceCalls, 0)
	atomic.StoreInt64(&m.listGoalsCalls, 0)
	atomic.StoreInt64(&m.createGoalCalls, 0)
	atomic.StoreInt64(&m.transferCalls, 0)
	atomic.StoreInt64(&m.fetchBetweenCalls, 0)
}
