package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forest6511/keylight/internal/cli"
	"github.com/forest6511/keylight/pkg/audit"
)

// Audit flags
var (
	auditLimit int
	auditJSON  bool
	auditOps   []string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := manager.Audit().ListEvents(0)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		events, err = cli.Filter(events, func(ev audit.Event) string { return ev.Operation }, auditOps)
		if err != nil {
			return err
		}
		if auditLimit > 0 && len(events) > auditLimit {
			events = events[len(events)-auditLimit:]
		}

		out := cmd.OutOrStdout()
		if auditJSON {
			output, err := json.MarshalIndent(events, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(output))
			return nil
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tOPERATION\tRESULT\tCODE")
		for _, ev := range events {
			code := ev.Code
			if code == "" {
				code = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Timestamp, ev.Operation, ev.Result, code)
		}
		return w.Flush()
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := newPasswordReader(cmd.InOrStdin(), cmd.ErrOrStderr()).Read("Enter master password: ")
		if err != nil {
			return err
		}

		result, err := manager.NewSession().VerifyAudit(cmd.Context(), password)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Records checked: %d\n", result.RecordsTotal)
		if !result.Valid {
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s\n", e)
			}
			return errors.New("audit log verification failed")
		}
		fmt.Fprintln(out, "Audit log integrity verified")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd, auditVerifyCmd)
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of events to show (0 for all)")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "Output as JSON")
	auditListCmd.Flags().StringSliceVar(&auditOps, "op", nil, "Only show operations matching these glob patterns (e.g., vault.unlock*)")
}
