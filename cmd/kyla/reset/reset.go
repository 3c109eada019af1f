package resetcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Venkie07/kyla-api/pkg/client"
)

const resetShortDesc string = "Clear a relay server's conversation memory"

type resetCommander struct {
	server  string
	session string
}

func NewResetCmd() *cobra.Command {
	cmder := &resetCommander{}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: resetShortDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.server, "server", "http://localhost:8080", "Relay server URL")
	cmd.Flags().StringVar(&cmder.session, "session", "", "Session to clear (default: the shared session)")

	return cmd
}

func (c *resetCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cl := client.New(c.server, nil)
	cl.SessionID = c.session

	status, err := cl.Reset(ctx)
	if err != nil {
		return fmt.Errorf("could not reset: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), status)
	return nil
}
