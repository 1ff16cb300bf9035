package starling

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"roundup/pkg/roundup"
)

func goalsPath(accountID uuid.UUID) string {
	return "/api/v2/account/" + accountID.String() + "/savings-goals"
}

// ListGoals returns all savings goals of the account.
func (c *Client) ListGoals(ctx context.Context, accountID uuid.UUID) ([]roundup.SavingsGoal, error) {
	var resp savingsGoalsResponse
	if err := c.do(ctx, http.MethodGet, goalsPath(accountID), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.SavingsGoalList == nil {
		return nil, malformed("savings goals: missing savingsGoalList")
	}

	goals := make([]roundup.SavingsGoal, 0, len(*resp.SavingsGoalList))
	for i, dto := range *resp.SavingsGoalList {
		id, err := uuid.Parse(dto.SavingsGoalUID)
		if err != nil {
			return nil, malformed("savings goals[%d]: invalid savingsGoalUid %q", i, dto.SavingsGoalUID)
		}

		goal := roundup.SavingsGoal{
			ID:               id,
			Name:             dto.Name,
			TargetMinorUnits: dto.Target.minorUnits(),
			SavedMinorUnits:  dto.TotalSaved.minorUnits(),
		}
		if dto.Target != nil {
			goal.Currency = dto.Target.Currency
		}
		goals = append(goals, goal)
	}
	return goals, nil
}

// CreateGoal creates a savings goal. The call is not idempotent.
func (c *Client) CreateGoal(ctx context.Context, accountID uuid.UUID, name, currency string, targetMinorUnits int64) (roundup.SavingsGoal, error) {
	req := createGoalRequest{
		Name:     name,
		Currency: currency,
		Target:   amount(currency, targetMinorUnits),
	}

	var resp createGoalResponse
	if err := c.do(ctx, http.MethodPost, goalsPath(accountID), nil, req, &resp); err != nil {
		return roundup.SavingsGoal{}, err
	}
	if !resp.Success {
		return roundup.SavingsGoal{}, malformed("create savings goal: success=false")
	}
	id, err := uuid.Parse(resp.SavingsGoalUID)
	if err != nil {
		return roundup.SavingsGoal{}, malformed("create savings goal: invalid savingsGoalUid %q", resp.SavingsGoalUID)
	}

	return roundup.SavingsGoal{
		ID:               id,
		Name:             name,
		Currency:         currency,
		TargetMinorUnits: targetMinorUnits,
	}, nil
}

// Transfer adds money to a savings goal. token becomes the transferUid path
// segment, which the API uses to de-duplicate repeated requests.
func (c *Client) Transfer(ctx context.Context, accountID, goalID, token uuid.UUID, amountMinorUnits int64) (roundup.Transfer, error) {
	path := goalsPath(accountID) + "/" + goalID.String() + "/add-money/" + token.String()
	req := transferRequest{Amount: amount(roundup.DefaultCurrency, amountMinorUnits)}

	var resp transferResponse
	if err := c.do(ctx, http.MethodPut, path, nil, req, &resp); err != nil {
		return roundup.Transfer{}, err
	}
	if !resp.Success {
		return roundup.Transfer{}, malformed("transfer: success=false")
	}
	if resp.TransferUID == "" {
		return roundup.Transfer{}, malformed("transfer: missing transferUid")
	}

	return roundup.Transfer{TransferID: resp.TransferUID}, nil
}
