package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/spf13/cobra"
)

const ssmOperationTimeout = 15 * time.Second

var secretEnvironments = map[string]bool{"dev": true, "staging": true, "prod": true}

// SSMClient is the subset of the SSM API used by `paygatectl secrets`.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SecretStore writes the SecureString parameters that services reference
// through *_SSM_PARAM variables. Paths are /{env}/paygate/{name}.
type SecretStore struct {
	client SSMClient
	env    string
	logger *slog.Logger
}

func NewSecretStore(client SSMClient, env string, logger *slog.Logger) (*SecretStore, error) {
	if !secretEnvironments[env] {
		return nil, fmt.Errorf("unknown environment %q (want dev, staging or prod)", env)
	}
	return &SecretStore{client: client, env: env, logger: logger}, nil
}

func (s *SecretStore) Path(name string) string {
	return fmt.Sprintf("/%s/paygate/%s", s.env, strings.Trim(name, "/"))
}

// Exists reports whether the parameter is present. It does not decrypt.
func (s *SecretStore) Exists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	path := s.Path(name)
	_, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", path, err)
	}
	return true, nil
}

// Put writes value as a SecureString. The value is never logged.
func (s *SecretStore) Put(ctx context.Context, name, value string, overwrite bool) (string, error) {
	path := s.Path(name)
	if value == "" {
		return "", fmt.Errorf("SSM parameter value must not be empty for path %q", path)
	}

	ctx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return "", fmt.Errorf("SSM parameter %q already exists (use --overwrite): %w", path, err)
		}
		return "", fmt.Errorf("writing SSM parameter %q: %w", path, err)
	}

	s.logger.Info("SSM parameter written", "path", path, "value_length", len(value))
	return path, nil
}

func secretsCmd(c *cli) *cobra.Command {
	var (
		env       string
		region    string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage SSM SecureString parameters referenced by *_SSM_PARAM",
	}
	cmd.PersistentFlags().StringVar(&env, "env", "dev", "target environment (dev, staging, prod)")
	cmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (default from the AWS profile)")

	newStore := func(ctx context.Context) (*SecretStore, error) {
		var opts []func(*awsconfig.LoadOptions) error
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return NewSecretStore(ssm.NewFromConfig(awsCfg), env, c.logger())
	}

	put := &cobra.Command{
		Use:   "put <name>",
		Short: "Read a value from stdin and store it as /{env}/paygate/<name>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := newStore(cmd.Context())
			if err != nil {
				return err
			}
			return putSecret(cmd, store, args[0], overwrite)
		},
	}
	put.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing parameter")

	exists := &cobra.Command{
		Use:   "exists <name>",
		Short: "Report whether /{env}/paygate/<name> is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := newStore(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := store.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %t\n", store.Path(args[0]), ok)
			return nil
		},
	}

	cmd.AddCommand(put, exists)
	return cmd
}

func putSecret(cmd *cobra.Command, store *SecretStore, name string, overwrite bool) error {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read value: %w", err)
	}
	path, err := store.Put(cmd.Context(), name, strings.TrimSpace(line), overwrite)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
