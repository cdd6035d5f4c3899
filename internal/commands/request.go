package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graphctl/graphctl/internal/appctx"
	"github.com/graphctl/graphctl/internal/output"
)

// requestFlags are shared by every request verb. Each invocation is a fresh
// process, so the flow flags select how the connection is established before
// the request runs.
type requestFlags struct {
	Via         string
	Token       string
	Certificate string
	Data        string
	Headers     []string
}

// NewRequestCmd creates the request command and its verb subcommands.
func NewRequestCmd() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Execute a request against the Graph endpoint",
		Long: "Connects using the selected credential flow, then issues the request " +
			"with transparent refresh, pagination, and throttle handling. GET " +
			"requests follow @odata.nextLink chains to completion.",
	}

	cmd.PersistentFlags().StringVar(&flags.Via, "via", "", "Credential flow: interactive, device, secret, certificate, managed-identity")
	cmd.PersistentFlags().StringVar(&flags.Token, "token", "", "Pre-acquired access token (skips the flow)")
	cmd.PersistentFlags().StringVar(&flags.Certificate, "certificate", "", "Path to the PEM certificate with private key")
	cmd.PersistentFlags().StringArrayVarP(&flags.Headers, "header", "H", nil, "Additional request header as 'Name: value' (repeatable)")

	cmd.AddCommand(
		newRequestVerbCmd("get", "GET a resource, following pagination", false, &flags),
		newRequestVerbCmd("post", "POST a JSON body to a resource", true, &flags),
		newRequestVerbCmd("patch", "PATCH a resource with a JSON body", true, &flags),
		newRequestVerbCmd("put", "PUT a JSON body to a resource", true, &flags),
		newRequestVerbCmd("delete", "DELETE a resource", false, &flags),
	)

	return cmd
}

func newRequestVerbCmd(verb, short string, hasBody bool, flags *requestFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <resource>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, strings.ToUpper(verb), args[0], flags)
		},
	}

	if hasBody {
		cmd.Flags().StringVarP(&flags.Data, "data", "d", "", "JSON request body (required)")
		_ = cmd.MarkFlagRequired("data")
	}

	return cmd
}

func runRequest(cmd *cobra.Command, method, resource string, flags *requestFlags) error {
	app := appctx.FromContext(cmd.Context())

	var body []byte
	if flags.Data != "" {
		// Validate up front so provider errors are never JSON syntax errors.
		var parsed any
		if err := json.Unmarshal([]byte(flags.Data), &parsed); err != nil {
			return output.ErrUsageHint(
				"Invalid JSON data",
				fmt.Sprintf("JSON parse error: %v", err),
			)
		}
		body = []byte(flags.Data)
	}

	flow, err := buildFlow(app.Config, flowOptions{
		Via:             flags.Via,
		Token:           flags.Token,
		CertificatePath: flags.Certificate,
	})
	if err != nil {
		return err
	}
	if err := app.Conn.Connect(cmd.Context(), flow); err != nil {
		return err
	}

	for _, h := range flags.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return output.ErrUsage(fmt.Sprintf("Invalid header %q (expected 'Name: value')", h))
		}
		if err := app.Conn.SetHeader(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return err
		}
	}

	items, err := app.Exec.Execute(cmd.Context(), method, resource, body)
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("%s %s", method, resource)
	switch len(items) {
	case 0:
		return app.OK(map[string]any{}, output.WithSummary(summary))
	case 1:
		return app.OK(items[0], output.WithSummary(summary))
	default:
		return app.OK(items,
			output.WithSummary(fmt.Sprintf("%s: %d items", summary, len(items))),
			output.WithCount(len(items)),
		)
	}
}
