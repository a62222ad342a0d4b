// Command paygatectl is the operator CLI for PayGate: schema migrations,
// signed test webhooks, ledger lookups, admin key hashing and SSM secrets.
//
//	paygatectl migrate up
//	paygatectl sign razorpay --secret $RAZORPAY_WEBHOOK_SECRET < event.json
//	paygatectl ledger get stripe evt_1Nx...
//	paygatectl admin-key hash
//	paygatectl secrets put razorpay/webhook_secret --env dev
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"paygate/internal/config"
)

type cli struct {
	logLevel string
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

func (c *cli) logger() *slog.Logger {
	lvl := slog.LevelWarn
	switch c.logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: lvl}))
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "paygatectl",
		Short:         "Operator tooling for the PayGate payment event gateway",
		Version:       config.NewBuildInfo().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		migrateCmd(c),
		signCmd(c),
		ledgerCmd(c),
		adminKeyCmd(c),
		secretsCmd(c),
	)
	return root
}

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
