package api

import (
	"net/http"
	"time"

	"roundup/pkg/metrics"
	"roundup/pkg/orchestrator"
	"roundup/pkg/roundup"
)

type roundUpResponse struct {
	Status            string `json:"status"`
	AccountID         string `json:"accountId"`
	SavingsGoalID     string `json:"savingsGoalId"`
	GoalCreated       bool   `json:"goalCreated"`
	TransactionCount  int    `json:"transactionCount"`
	RoundUpAmount     string `json:"roundUpAmount"`
	RoundUpMinorUnits int64  `json:"roundUpMinorUnits"`
	TransferID        string `json:"transferId,omitempty"`
}

func newRoundUpResponse(result orchestrator.Result) roundUpResponse {
	status := metrics.OutcomeDone
	if !result.Transferred() {
		status = metrics.OutcomeSkipped
	}

	return roundUpResponse{
		Status:            status,
		AccountID:         result.AccountID.String(),
		SavingsGoalID:     result.GoalID.String(),
		GoalCreated:       result.GoalCreated,
		TransactionCount:  result.TransactionCount,
		RoundUpAmount:     roundup.FormatMinorUnits(result.RoundUpMinorUnits),
		RoundUpMinorUnits: result.RoundUpMinorUnits,
		TransferID:        result.TransferID,
	}
}

type errorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

func newErrorResponse(err error) errorResponse {
	code := roundup.KindInvalidAccountData.String()
	if kind, ok := roundup.KindOf(err); ok {
		code = kind.String()
	}
	return errorResponse{
		Timestamp: time.Now().UTC(),
		Code:      code,
		Message:   err.Error(),
	}
}

// statusFor maps a workflow error to the HTTP status of the response.
func statusFor(err error) int {
	kind, ok := roundup.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch kind {
	case roundup.KindAccountNotFound:
		return http.StatusNotFound
	case roundup.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case roundup.KindDownstreamClient, roundup.KindDownstreamServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
