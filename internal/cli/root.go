// Package cli assembles the root command and wires global flags, config
// loading, and error rendering.
package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/graphctl/graphctl/internal/appctx"
	"github.com/graphctl/graphctl/internal/commands"
	"github.com/graphctl/graphctl/internal/config"
	"github.com/graphctl/graphctl/internal/output"
	"github.com/graphctl/graphctl/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "graphctl",
		Short:         "Authenticate against an identity provider and call the Graph API",
		Long: "graphctl acquires OAuth2 tokens through interactive, device code, " +
			"client secret, certificate, managed identity, or caller-supplied " +
			"token flows, and executes Graph requests with transparent refresh, " +
			"pagination, and throttle handling.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				Authority:  flags.Authority,
				TenantID:   flags.Tenant,
				ClientID:   flags.ClientID,
				Scopes:     flags.Scopes,
				BaseURL:    flags.BaseURL,
				APIVersion: flags.APIVersion,
				Format:     flags.Output,
			})
			if err != nil {
				return err
			}

			app := appctx.NewApp(cfg)
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Accept underscore spellings like --api_version
	cmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	// Identity flags
	cmd.PersistentFlags().StringVar(&flags.Authority, "authority", "", "Identity provider authority URL")
	cmd.PersistentFlags().StringVarP(&flags.Tenant, "tenant", "t", "", "Tenant ID or domain")
	cmd.PersistentFlags().StringVar(&flags.ClientID, "client-id", "", "Application (client) ID")
	cmd.PersistentFlags().StringVar(&flags.Scopes, "scopes", "", "Space-separated scopes to request")

	// Target API flags
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "Graph API base URL")
	cmd.PersistentFlags().StringVar(&flags.APIVersion, "api-version", "", "Graph API version segment")

	// Output flags
	cmd.PersistentFlags().StringVarP(&flags.Output, "output", "o", "", "Output format: json, yaml, quiet")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "jq expression applied to the result data")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for ops, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	return cmd
}

// Execute runs the root command.
func Execute() {
	// Local .env files are a development convenience; absence is normal.
	_ = godotenv.Load()

	cmd := NewRootCmd()

	cmd.AddCommand(commands.NewConnectCmd())
	cmd.AddCommand(commands.NewDisconnectCmd())
	cmd.AddCommand(commands.NewContextCmd())
	cmd.AddCommand(commands.NewRequestCmd())
	cmd.AddCommand(commands.NewVersionCmd())

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()
	if err != nil {
		err = transformCobraError(err)
		apiErr := output.AsError(err)

		// Prefer app.Err for --stats support
		if app := appctx.FromContext(executedCmd.Context()); app != nil {
			_ = app.Err(err)
			os.Exit(output.ExitCodeFor(apiErr.Code))
		}

		// App not available, e.g. config load failed during setup
		format := output.FormatJSON
		if v, ferr := cmd.PersistentFlags().GetString("output"); ferr == nil && v != "" {
			format = output.ParseFormat(v)
		}
		writer := output.New(output.Options{Format: format, Writer: os.Stdout})
		_ = writer.Err(err)

		os.Exit(output.ExitCodeFor(apiErr.Code))
	}
}

// transformCobraError rewrites cobra's flag and argument errors into the
// structured usage errors the rest of the CLI produces.
func transformCobraError(err error) error {
	msg := err.Error()

	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		re := regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
		if matches := re.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	if strings.Contains(msg, "arg(s), received 0") {
		return output.ErrUsage("Resource path required")
	}

	if strings.HasPrefix(msg, "required flag(s) ") {
		re := regexp.MustCompile(`required flag\(s\) "(\w+)" not set`)
		if matches := re.FindStringSubmatch(msg); len(matches) > 1 {
			if matches[1] == "data" {
				return output.ErrUsage("--data is required for write requests")
			}
			return output.ErrUsage(matches[1] + " required")
		}
	}

	return err
}
