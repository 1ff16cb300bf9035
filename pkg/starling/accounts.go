package starling

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"roundup/pkg/roundup"
)

// ListAccounts returns the accounts of the token holder in API order.
func (c *Client) ListAccounts(ctx context.Context) ([]roundup.Account, error) {
	var resp accountsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v2/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Accounts == nil {
		return nil, malformed("accounts: missing account list")
	}

	accounts := make([]roundup.Account, 0, len(*resp.Accounts))
	for i, dto := range *resp.Accounts {
		id, err := uuid.Parse(dto.AccountUID)
		if err != nil {
			return nil, malformed("accounts[%d]: invalid accountUid %q", i, dto.AccountUID)
		}

		account := roundup.Account{
			ID:       id,
			Type:     dto.AccountType,
			Currency: dto.Currency,
		}
		if dto.DefaultCategory != "" {
			category, err := uuid.Parse(dto.DefaultCategory)
			if err != nil {
				return nil, malformed("accounts[%d]: invalid defaultCategory %q", i, dto.DefaultCategory)
			}
			account.DefaultCategoryID = category
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// EffectiveBalance returns the effective balance of the account.
func (c *Client) EffectiveBalance(ctx context.Context, accountID uuid.UUID) (roundup.Balance, error) {
	var resp balanceResponse
	path := "/api/v2/accounts/" + accountID.String() + "/balance"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return roundup.Balance{}, err
	}
	if resp.EffectiveBalance == nil || resp.EffectiveBalance.MinorUnits == nil {
		return roundup.Balance{}, malformed("balance: missing effectiveBalance")
	}

	return roundup.Balance{
		EffectiveMinorUnits: *resp.EffectiveBalance.MinorUnits,
		Currency:            resp.EffectiveBalance.Currency,
	}, nil
}
