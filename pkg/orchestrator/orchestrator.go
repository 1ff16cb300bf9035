// Package orchestrator sequences the round-up workflow: resolve the account,
// its default category and the savings goal, fetch the week's transactions,
// compute the round-up, check the balance and move the money.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roundup/pkg/logging"
	"roundup/pkg/metrics"
	"roundup/pkg/retry"
	"roundup/pkg/roundup"
)

// Operation labels used for retries, logs and metrics.
const (
	OpListAccounts = "get accounts"
	OpListGoals    = "get savings goals"
	OpCreateGoal   = "create savings goal"
	OpFetchFeed    = "get transactions"
	OpBalance      = "get balance"
	OpTransfer     = "transfer to savings goal"
)

// Options tunes a workflow run.
type Options struct {
	// Now returns the end of the lookback window. Default: time.Now
	Now func() time.Time

	// NewToken generates the idempotency token of a transfer. Default: uuid.New
	NewToken func() uuid.UUID

	// Lookback is the length of the transaction window. Default: 7 days
	Lookback time.Duration

	// RunTimeout bounds a whole run. Zero disables the bound.
	RunTimeout time.Duration
}

// DefaultOptions returns the default run options.
func DefaultOptions() Options {
	return Options{
		Now:      time.Now,
		NewToken: uuid.New,
		Lookback: 7 * 24 * time.Hour,
	}
}

// Result describes how far a run got and what it did.
type Result struct {
	State             State
	AccountID         uuid.UUID
	CategoryID        uuid.UUID
	GoalID            uuid.UUID
	GoalCreated       bool
	TransactionCount  int
	RoundUpMinorUnits int64
	BalanceMinorUnits int64
	TransferID        string
	IdempotencyToken  uuid.UUID
}

// Transferred reports whether the run moved money.
func (r Result) Transferred() bool {
	return r.TransferID != ""
}

// Orchestrator runs the round-up workflow. It holds only immutable
// collaborators, so one Orchestrator may serve concurrent runs.
type Orchestrator struct {
	accounts     roundup.AccountGateway
	goals        roundup.GoalGateway
	transactions roundup.TransactionGateway
	policy       *retry.Policy
	options      Options
	metrics      metrics.MetricsCollector
	logger       *logging.Logger
}

// New creates an orchestrator.
func New(accounts roundup.AccountGateway, goals roundup.GoalGateway, transactions roundup.TransactionGateway, policy *retry.Policy, options Options) *Orchestrator {
	return NewWithMetrics(accounts, goals, transactions, policy, options, metrics.NoOpCollector{})
}

// NewWithMetrics creates an orchestrator that reports runs to the given collector.
func NewWithMetrics(accounts roundup.AccountGateway, goals roundup.GoalGateway, transactions roundup.TransactionGateway, policy *retry.Policy, options Options, metricsCollector metrics.MetricsCollector) *Orchestrator {
	defaults := DefaultOptions()
	if options.Now == nil {
		options.Now = defaults.Now
	}
	if options.NewToken == nil {
		options.NewToken = defaults.NewToken
	}
	if options.Lookback <= 0 {
		options.Lookback = defaults.Lookback
	}
	if policy == nil {
		policy = retry.NewPolicyWithMetrics(retry.DefaultConfig(), metricsCollector)
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NoOpCollector{}
	}

	return &Orchestrator{
		accounts:     accounts,
		goals:        goals,
		transactions: transactions,
		policy:       policy,
		options:      options,
		metrics:      metricsCollector,
		logger:       logging.Global().Named("orchestrator"),
	}
}

// run carries the state of one workflow execution.
type run struct {
	o      *Orchestrator
	result Result
	logger *logging.Logger
}

func (r *run) advance(state State, fields ...zap.Field) {
	r.logger.Info("state transition",
		append([]zap.Field{
			zap.Stringer("from", r.result.State),
			zap.Stringer("to", state),
		}, fields...)...,
	)
	r.result.State = state
}

// Run executes the workflow once. Every returned error is a *roundup.Error.
// The Result is returned on failure too and reports the last state reached
// before StateFailed through its populated fields.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	if o.options.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.options.RunTimeout)
		defer cancel()
	}

	r := &run{
		o:      o,
		result: Result{State: StateStart},
		logger: o.logger.With(zap.String("run_id", uuid.NewString())),
	}
	r.logger.Info("starting round-up run")

	err := r.execute(ctx)
	duration := time.Since(start)

	if err != nil {
		var de *roundup.Error
		if !errors.As(err, &de) {
			de = roundup.InvalidAccountData("round-up", err)
		}
		r.logger.Error("round-up run failed",
			zap.Stringer("state", r.result.State),
			logging.ErrorKind(de),
			zap.Error(de),
			zap.Duration("duration", duration),
		)
		r.result.State = StateFailed
		o.metrics.RecordRun(de.Kind.Label(), duration)
		return r.result, de
	}

	outcome := metrics.OutcomeDone
	if !r.result.Transferred() {
		outcome = metrics.OutcomeSkipped
	}
	o.metrics.RecordRun(outcome, duration)
	r.logger.Info("round-up run completed",
		zap.String("outcome", outcome),
		logging.Amount("round_up", r.result.RoundUpMinorUnits),
		zap.Duration("duration", duration),
	)
	return r.result, nil
}

func (r *run) execute(ctx context.Context) error {
	o := r.o

	account, err := r.resolveAccount(ctx)
	if err != nil {
		return err
	}
	r.result.AccountID = account.ID
	r.logger = r.logger.With(logging.Account(account.ID))
	r.advance(StateAccountResolved)

	if !account.HasDefaultCategory() {
		return roundup.Errorf(roundup.KindInvalidAccountData, "account %s has no default category", account.ID)
	}
	r.result.CategoryID = account.DefaultCategoryID
	r.advance(StateCategoryResolved, zap.Stringer("category_id", account.DefaultCategoryID))

	goal, created, err := r.resolveGoal(ctx, account.ID)
	if err != nil {
		return err
	}
	r.result.GoalID = goal.ID
	r.result.GoalCreated = created
	r.advance(StateGoalResolved, zap.Stringer("goal_id", goal.ID), zap.Bool("created", created))

	items, err := r.fetchFeed(ctx, account)
	if err != nil {
		return err
	}
	r.result.TransactionCount = len(items)
	r.advance(StateTransactionsFetched, zap.Int("transactions", len(items)))

	amount := roundup.RoundUp(items)
	r.result.RoundUpMinorUnits = amount
	r.advance(StateAmountComputed, logging.Amount("round_up", amount))

	if amount == 0 {
		r.logger.Info("no round-up amount to transfer")
		r.advance(StateDone)
		return nil
	}

	balance, err := retry.Do(ctx, o.policy, OpBalance, func(ctx context.Context) (roundup.Balance, error) {
		return o.accounts.EffectiveBalance(ctx, account.ID)
	})
	if err != nil {
		return err
	}
	r.result.BalanceMinorUnits = balance.EffectiveMinorUnits
	r.advance(StateBalanceChecked, logging.Amount("balance", balance.EffectiveMinorUnits))

	if balance.EffectiveMinorUnits < amount {
		r.logger.Warn("insufficient balance for round-up",
			logging.Amount("balance", balance.EffectiveMinorUnits),
			logging.Amount("round_up", amount),
		)
		return roundup.Errorf(roundup.KindInsufficientBalance,
			"insufficient balance to round up: balance %s, round-up %s",
			roundup.FormatMinorUnits(balance.EffectiveMinorUnits), roundup.FormatMinorUnits(amount))
	}

	// One token per logical transfer; every retry of the call reuses it.
	token := o.options.NewToken()
	r.result.IdempotencyToken = token

	transfer, err := retry.Do(ctx, o.policy, OpTransfer, func(ctx context.Context) (roundup.Transfer, error) {
		return o.goals.Transfer(ctx, account.ID, goal.ID, token, amount)
	})
	if err != nil {
		return err
	}
	if transfer.TransferID == "" {
		return roundup.InvalidAccountData(OpTransfer, errors.New("transfer response carries no transfer id"))
	}
	r.result.TransferID = transfer.TransferID
	r.advance(StateTransferred, zap.String("transfer_id", transfer.TransferID), logging.Amount("round_up", amount))
	o.metrics.RecordRoundUp(amount)

	r.advance(StateDone)
	return nil
}

// resolveAccount returns the first account the gateway reports.
func (r *run) resolveAccount(ctx context.Context) (roundup.Account, error) {
	o := r.o

	accounts, err := retry.Do(ctx, o.policy, OpListAccounts, func(ctx context.Context) ([]roundup.Account, error) {
		return o.accounts.ListAccounts(ctx)
	})
	if err != nil {
		return roundup.Account{}, err
	}
	if len(accounts) == 0 {
		return roundup.Account{}, roundup.Errorf(roundup.KindAccountNotFound, "no accounts found")
	}
	return accounts[0], nil
}

// resolveGoal finds the round-up goal by exact name or creates it.
func (r *run) resolveGoal(ctx context.Context, accountID uuid.UUID) (roundup.SavingsGoal, bool, error) {
	o := r.o

	goals, err := retry.Do(ctx, o.policy, OpListGoals, func(ctx context.Context) ([]roundup.SavingsGoal, error) {
		return o.goals.ListGoals(ctx, accountID)
	})
	if err != nil {
		return roundup.SavingsGoal{}, false, err
	}
	for _, g := range goals {
		if g.Name == roundup.GoalName {
			return g, false, nil
		}
	}

	r.logger.Info("savings goal not found, creating it", zap.String("goal_name", roundup.GoalName))

	// Creating a goal is not idempotent, so it gets a single attempt.
	goal, err := retry.Do(ctx, o.policy.WithoutRetries(), OpCreateGoal, func(ctx context.Context) (roundup.SavingsGoal, error) {
		return o.goals.CreateGoal(ctx, accountID, roundup.GoalName, roundup.DefaultCurrency, roundup.DefaultGoalTargetMinorUnits)
	})
	if err != nil {
		return roundup.SavingsGoal{}, false, err
	}
	if goal.ID == uuid.Nil {
		return roundup.SavingsGoal{}, false, roundup.InvalidAccountData(OpCreateGoal, errors.New("created goal carries no id"))
	}
	return goal, true, nil
}

// fetchFeed returns the items of the lookback window. A null or malformed
// feed is read as empty.
func (r *run) fetchFeed(ctx context.Context, account roundup.Account) ([]roundup.FeedItem, error) {
	o := r.o
	to := o.options.Now()
	from := to.Add(-o.options.Lookback)

	items, err := retry.Do(ctx, o.policy, OpFetchFeed, func(ctx context.Context) ([]roundup.FeedItem, error) {
		return o.transactions.FetchBetween(ctx, account.ID, account.DefaultCategoryID, from, to)
	})
	if errors.Is(err, roundup.ErrMalformedResponse) {
		r.logger.Warn("malformed transaction feed, treating as empty", zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}
