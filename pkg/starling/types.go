package starling

import (
	"time"

	"github.com/google/uuid"

	"roundup/pkg/roundup"
)

// timestampLayout is the format the feed endpoint expects in query parameters.
const timestampLayout = "2006-01-02T15:04:05.000Z"

type currencyAndAmount struct {
	Currency   string `json:"currency"`
	MinorUnits *int64 `json:"minorUnits"`
}

func amount(currency string, minorUnits int64) currencyAndAmount {
	return currencyAndAmount{Currency: currency, MinorUnits: &minorUnits}
}

func (a *currencyAndAmount) minorUnits() int64 {
	if a == nil || a.MinorUnits == nil {
		return 0
	}
	return *a.MinorUnits
}

type errorResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	ErrorDescription string `json:"error_description"`
}

type accountDTO struct {
	AccountUID      string `json:"accountUid"`
	DefaultCategory string `json:"defaultCategory"`
	AccountType     string `json:"accountType"`
	Currency        string `json:"currency"`
}

type accountsResponse struct {
	Accounts *[]accountDTO `json:"accounts"`
}

type balanceResponse struct {
	ClearedBalance   *currencyAndAmount `json:"clearedBalance"`
	EffectiveBalance *currencyAndAmount `json:"effectiveBalance"`
}

type savingsGoalDTO struct {
	SavingsGoalUID string             `json:"savingsGoalUid"`
	Name           string             `json:"name"`
	Target         *currencyAndAmount `json:"target"`
	TotalSaved     *currencyAndAmount `json:"totalSaved"`
}

type savingsGoalsResponse struct {
	SavingsGoalList *[]savingsGoalDTO `json:"savingsGoalList"`
}

type createGoalRequest struct {
	Name     string            `json:"name"`
	Currency string            `json:"currency"`
	Target   currencyAndAmount `json:"target"`
}

type createGoalResponse struct {
	SavingsGoalUID string `json:"savingsGoalUid"`
	Success        bool   `json:"success"`
}

type transferRequest struct {
	Amount currencyAndAmount `json:"amount"`
}

type transferResponse struct {
	TransferUID string `json:"transferUid"`
	Success     bool   `json:"success"`
}

type feedItemDTO struct {
	FeedItemUID     string             `json:"feedItemUid"`
	CategoryUID     string             `json:"categoryUid"`
	Amount          *currencyAndAmount `json:"amount"`
	Direction       string             `json:"direction"`
	UpdatedAt       string             `json:"updatedAt"`
	TransactionTime string             `json:"transactionTime"`
	SettlementTime  string             `json:"settlementTime"`
	Source          string             `json:"source"`
	Status          string             `json:"status"`
}

type feedItemsResponse struct {
	FeedItems *[]feedItemDTO `json:"feedItems"`
}

// toFeedItem converts a feed item leniently: unparseable ids and times are
// left zero and a missing amount counts as 0.
func (d feedItemDTO) toFeedItem() roundup.FeedItem {
	item := roundup.FeedItem{
		ID:               parseOptionalUUID(d.FeedItemUID),
		CategoryID:       parseOptionalUUID(d.CategoryUID),
		AmountMinorUnits: d.Amount.minorUnits(),
		Direction:        roundup.Direction(d.Direction),
		TransactionTime:  parseTime(d.TransactionTime),
		SettlementTime:   parseTime(d.SettlementTime),
		UpdatedAt:        parseTime(d.UpdatedAt),
		Source:           d.Source,
		Status:           d.Status,
	}
	if d.Amount != nil {
		item.Currency = d.Amount.Currency
	}
	return item
}

func parseOptionalUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
