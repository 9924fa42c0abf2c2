package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/tranvictor/ipregistry"
)

// runIn opens a session, runs fn and prints the status fn left on section.
func runIn(cfg *config, section string, fn func(ctx context.Context, out io.Writer, m *ipregistry.Manager)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		s, err := cfg.open(cmd.Context(), out)
		if err != nil {
			return err
		}
		defer s.close()

		fn(cmd.Context(), out, s.manager)
		return printStatus(out, s.manager, section)
	}
}

func runMutation(cfg *config, section string, build func() ipregistry.OperationDescriptor) func(*cobra.Command, []string) error {
	return runIn(cfg, section, func(ctx context.Context, out io.Writer, m *ipregistry.Manager) {
		outcome := m.RunMutation(ctx, build())
		if outcome.TxHash != (common.Hash{}) {
			fmt.Fprintf(out, "tx: %s\n", outcome.TxHash.Hex())
		}
	})
}

func newRegisterCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <type> <title> <description>",
		Short: "Register a new IP record",
		Long: `Register a new IP record owned by the signing account.

<type> is a category code 0-3 or one of Patent, Copyright, Trademark, Other.`,
		Args: cobra.ExactArgs(3),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runMutation(cfg, ipregistry.SectionRegister, func() ipregistry.OperationDescriptor {
			return ipregistry.NewRegisterOperation(args[0], args[1], args[2])
		})(c, args)
	}
	return cmd
}

func newTransferCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer <id> <new-owner>",
		Short: "Transfer ownership of a record",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runMutation(cfg, ipregistry.SectionTransfer, func() ipregistry.OperationDescriptor {
			return ipregistry.NewTransferOperation(args[0], args[1])
		})(c, args)
	}
	return cmd
}

func newUpdateCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id> <title> <metadata>",
		Short: "Update the title and metadata of a record",
		Args:  cobra.ExactArgs(3),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runMutation(cfg, ipregistry.SectionUpdate, func() ipregistry.OperationDescriptor {
			return ipregistry.NewUpdateOperation(args[0], args[1], args[2])
		})(c, args)
	}
	return cmd
}

func newViewCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <id>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runIn(cfg, ipregistry.SectionView, func(ctx context.Context, _ io.Writer, m *ipregistry.Manager) {
			_, _ = m.ViewIP(ctx, args[0])
		})(c, args)
	}
	return cmd
}

func newHistoryCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "List the ownership transfers of a record",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runIn(cfg, ipregistry.SectionHistory, func(ctx context.Context, _ io.Writer, m *ipregistry.Manager) {
			_, _ = m.ViewHistory(ctx, args[0])
		})(c, args)
	}
	return cmd
}

func newVerifyCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <id> <address>",
		Short: "Check whether an address owns a record",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runIn(cfg, ipregistry.SectionVerify, func(ctx context.Context, _ io.Writer, m *ipregistry.Manager) {
			_, _ = m.VerifyOwnership(ctx, args[0], args[1])
		})(c, args)
	}
	return cmd
}

func newReconcileCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve txs whose confirmation wait gave up",
		Long: `Check every stored tx of the signing account whose outcome is still
unknown and report it on the section it was started from. Needs --redis to
see txs from earlier runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			s, err := cfg.open(cmd.Context(), out)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.manager.ReconcilePending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "confirmed: %d, reverted: %d, dropped: %d, still pending: %d\n",
				result.Confirmed, result.Reverted, result.Dropped, result.StillPending)
			for _, entry := range s.manager.Statuses() {
				if entry.Section != ipregistry.SectionWallet {
					fmt.Fprintf(out, "[%s] %s: %s\n", entry.Severity, entry.Section, entry.Message)
				}
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "error: %v\n", e)
			}
			if len(result.Errors) > 0 {
				return errOperationFailed
			}
			return nil
		},
	}
}
