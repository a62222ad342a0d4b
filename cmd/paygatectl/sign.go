package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v82/webhook"

	"paygate/internal/external"
)

// signCmd prints the signature header a provider would send for a payload,
// for replaying captured events against a local gateway.
func signCmd(c *cli) *cobra.Command {
	var (
		secret string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the webhook signature header for a payload",
	}
	cmd.PersistentFlags().StringVar(&secret, "secret", "", "webhook signing secret")
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "", "payload file (default stdin)")
	_ = cmd.MarkPersistentFlagRequired("secret")

	read := func(cmd *cobra.Command) ([]byte, error) {
		if file != "" {
			return os.ReadFile(file)
		}
		payload, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			return nil, errors.New("empty payload")
		}
		return payload, nil
	}

	var at int64
	stripe := &cobra.Command{
		Use:   "stripe",
		Short: "Print a Stripe-Signature header",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := read(cmd)
			if err != nil {
				return err
			}
			ts := time.Now()
			if at > 0 {
				ts = time.Unix(at, 0)
			}
			signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload:   payload,
				Secret:    secret,
				Timestamp: ts,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", external.HeaderStripeSignature, signed.Header)
			return nil
		},
	}
	stripe.Flags().Int64Var(&at, "timestamp", 0, "unix timestamp to sign with (default now)")

	razorpay := &cobra.Command{
		Use:   "razorpay",
		Short: "Print an X-Razorpay-Signature header",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := read(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", external.HeaderRazorpaySignature, external.SignRazorpay(payload, secret))
			return nil
		},
	}

	cmd.AddCommand(stripe, razorpay)
	return cmd
}
