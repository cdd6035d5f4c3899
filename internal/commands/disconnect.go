package commands

import (
	"github.com/spf13/cobra"

	"github.com/graphctl/graphctl/internal/appctx"
	"github.com/graphctl/graphctl/internal/output"
)

// NewDisconnectCmd creates the disconnect command. Disconnecting zeroes the
// in-memory connection record; it is safe when nothing is connected.
func NewDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Drop the in-memory connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			app.Conn.Disconnect()
			return app.OK(map[string]any{"connected": false}, output.WithSummary("Disconnected"))
		},
	}
}
