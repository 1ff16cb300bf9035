package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roundup/pkg/logging"
	"roundup/pkg/roundup"
)

func newRunCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the round-up once and print the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			result, runErr := a.orchestrator.Run(cmd.Context())

			out := map[string]interface{}{
				"state":             result.State.String(),
				"accountId":         result.AccountID.String(),
				"savingsGoalId":     result.GoalID.String(),
				"goalCreated":       result.GoalCreated,
				"transactionCount":  result.TransactionCount,
				"roundUpAmount":     roundup.FormatMinorUnits(result.RoundUpMinorUnits),
				"roundUpMinorUnits": result.RoundUpMinorUnits,
			}
			if result.Transferred() {
				out["transferId"] = result.TransferID
			}
			if runErr != nil {
				kind, _ := roundup.KindOf(runErr)
				out["error"] = map[string]string{"code": kind.String(), "message": runErr.Error()}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}

			if runErr != nil {
				a.logger.Error("round-up failed", logging.ErrorKind(runErr), zap.Error(runErr))
				return fmt.Errorf("round-up failed: %w", runErr)
			}
			return nil
		},
	}
}
