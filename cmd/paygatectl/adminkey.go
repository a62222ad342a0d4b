package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"paygate/internal/auth"
)

func adminKeyCmd(_ *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin-key",
		Short: "Manage the operator X-Admin-Key",
	}
	hash := &cobra.Command{
		Use:   "hash",
		Short: "Read a key from stdin and print its bcrypt hash for ADMIN_KEY_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read key: %w", err)
			}
			h, err := auth.HashAdminKey(strings.TrimSpace(line))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	cmd.AddCommand(hash)
	return cmd
}
