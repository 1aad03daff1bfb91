package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokensale/cmd/internal/secret"
	"tokensale/config"
	"tokensale/gateway/auth"
	"tokensale/observability/eventlog"
	"tokensale/report"
)

const (
	defaultConfig   = "./tokensale.toml"
	defaultEndpoint = "http://127.0.0.1:8080"
	requestTimeout  = 2 * time.Minute
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	endpoint   string
	as         string
	token      string
}

// bearer returns the explicit token or mints one for --as.
func (g *globalFlags) bearer() (string, error) {
	if strings.TrimSpace(g.token) != "" {
		return g.token, nil
	}
	if strings.TrimSpace(g.as) == "" {
		return "", nil
	}
	return mintToken(g.configPath, g.as)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "tokensalectl",
		Short:         "Operate a tokensale gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfig, "Path to the node configuration (auth section)")
	root.PersistentFlags().StringVar(&flags.endpoint, "endpoint", defaultEndpoint, "Gateway base URL")
	root.PersistentFlags().StringVar(&flags.as, "as", "", "Act as this address; a token is minted with the shared secret")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("TOKENSALE_TOKEN"), "Bearer token to use instead of minting one")

	root.AddCommand(
		newTokenCmd(flags),
		newAllowlistCmd(flags),
		newExportCmd(flags),
		newCallCmd(flags, "open-presale", "Open the pre-sale", (*client).openPresale),
		newCallCmd(flags, "settle", "Settle every pending allocation", (*client).settle),
		newCallCmd(flags, "status", "Print the campaign status", (*client).status),
	)
	return root
}

func mintToken(configPath, as string) (string, error) {
	addr, err := config.ParseAddress(as)
	if err != nil {
		return "", err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	value, err := secret.NewSource(cfg.Auth.JWTSecretEnv, "JWT signing secret", true).Get()
	if err != nil {
		return "", err
	}
	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret:   []byte(value),
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      time.Duration(cfg.Auth.TokenTTLSeconds) * time.Second,
	}, nil)
	if err != nil {
		return "", err
	}
	return authenticator.Issue(addr)
}

func newTokenCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the --as address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(flags.as) == "" {
				return fmt.Errorf("--as is required")
			}
			token, err := mintToken(flags.configPath, flags.as)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newAllowlistCmd(flags *globalFlags) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "allowlist FILE",
		Short: "Push a YAML allowlist of admission caps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := config.LoadAllowlist(args[0])
			if err != nil {
				return err
			}
			token, err := flags.bearer()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			updated, err := newClient(flags.endpoint, token).pushAllowlist(ctx, groups, runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d participants in %d groups\n", updated, len(groups))
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Stable identifier that makes a retried push idempotent")
	return cmd
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		eventsPath string
		outDir     string
		name       string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export contribution receipts from the event log as CSV and Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(eventsPath) == "" {
				cfg, err := config.Load(flags.configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				eventsPath = cfg.EventLogPath
			}
			store, err := eventlog.Open(eventsPath)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer store.Close()
			if name == "" {
				name = "contributions-" + time.Now().UTC().Format("20060102T150405Z")
			}
			csvPath, parquetPath, count, err := report.Export(cmd.Context(), store, outDir, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s and %s\n", count, csvPath, parquetPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventsPath, "events", "", "Event log database (defaults to EventLogPath from --config)")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	cmd.Flags().StringVar(&name, "name", "", "Base file name (defaults to a timestamped name)")
	return cmd
}

func newCallCmd(flags *globalFlags, use, short string, call func(*client, context.Context) (map[string]interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := flags.bearer()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := call(newClient(flags.endpoint, token), ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
