package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphctl/graphctl/internal/appctx"
	"github.com/graphctl/graphctl/internal/auth"
	"github.com/graphctl/graphctl/internal/output"
)

// NewConnectCmd creates the connect command and its per-flow subcommands.
func NewConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Acquire a token and establish a connection",
		Long: "Run one credential flow against the identity provider, validate the " +
			"result, and print the connection context. Tokens live in process " +
			"memory only; nothing is written to disk.",
	}

	cmd.AddCommand(
		newConnectInteractiveCmd(),
		newConnectDeviceCmd(),
		newConnectSecretCmd(),
		newConnectCertificateCmd(),
		newConnectManagedIdentityCmd(),
		newConnectTokenCmd(),
	)

	return cmd
}

func newConnectInteractiveCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Sign in through the browser (authorization code + PKCE)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, flowOptions{Via: "interactive", Timeout: timeout})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", auth.DefaultRedirectWait, "How long to wait for the browser redirect")

	return cmd
}

func newConnectDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "device",
		Aliases: []string{"device-code"},
		Short:   "Sign in from another device (device code flow)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, flowOptions{Via: "device"})
		},
	}
}

func newConnectSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Authenticate as an application with a client secret",
		Long:  "Client credentials grant. The secret is read from GRAPHCTL_CLIENT_SECRET.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, flowOptions{Via: "secret"})
		},
	}
}

func newConnectCertificateCmd() *cobra.Command {
	var certPath string

	cmd := &cobra.Command{
		Use:   "certificate",
		Short: "Authenticate as an application with a certificate",
		Long: "Client credentials grant using a signed client assertion. The PEM " +
			"file must contain the certificate and its private key.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, flowOptions{Via: "certificate", CertificatePath: certPath})
		},
	}

	cmd.Flags().StringVar(&certPath, "certificate", "", "Path to the PEM certificate with private key")

	return cmd
}

func newConnectManagedIdentityCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "managed-identity",
		Aliases: []string{"mi"},
		Short:   "Authenticate with the platform managed identity",
		Long: "Requests a token from the instance metadata service, or from the " +
			"identity endpoint published by the hosting environment.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, flowOptions{Via: "managed-identity"})
		},
	}
}

func newConnectTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <access-token>",
		Short: "Use a pre-acquired access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, flowOptions{Token: args[0]})
		},
	}
}

func runConnect(cmd *cobra.Command, opts flowOptions) error {
	app := appctx.FromContext(cmd.Context())

	flow, err := buildFlow(app.Config, opts)
	if err != nil {
		return err
	}
	if err := app.Conn.Connect(cmd.Context(), flow); err != nil {
		return err
	}

	summary := fmt.Sprintf("Connected (%s)", flow.Type())
	if tctx := app.Conn.Context(); tctx != nil {
		summary = fmt.Sprintf("Connected as %s (%s)", tctx.Identity, tctx.TokenType)
	}

	return app.OK(app.Conn.Describe(), output.WithSummary(summary))
}
