package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/graphctl/graphctl/internal/appctx"
	"github.com/graphctl/graphctl/internal/output"
	"github.com/graphctl/graphctl/internal/token"
)

// NewContextCmd creates the context command, which decodes and displays the
// claims of a token without verifying it.
func NewContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "context [access-token]",
		Short: "Show the identity context of a token",
		Long: "Decodes the token's claims for display. The token is taken from the " +
			"argument, the GRAPHCTL_TOKEN environment variable, or the current " +
			"connection. Claims are informational only and never verified.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			var raw string
			switch {
			case len(args) == 1:
				raw = args[0]
			case os.Getenv("GRAPHCTL_TOKEN") != "":
				raw = os.Getenv("GRAPHCTL_TOKEN")
			default:
				if tctx := app.Conn.Context(); tctx != nil {
					return app.OK(tctx, output.WithSummary("Connection context"))
				}
				return output.ErrUsageHint(
					"No token to inspect",
					"Pass a token argument or set GRAPHCTL_TOKEN",
				)
			}

			tctx, err := token.ExtractContext(raw)
			if err != nil {
				return err
			}
			return app.OK(tctx, output.WithSummary("Token context for "+tctx.Identity))
		},
	}
}
