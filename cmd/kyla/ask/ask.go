package askcmder

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Venkie07/kyla-api/cmd/kyla/termstyle"
	"github.com/Venkie07/kyla-api/pkg/client"
)

const askLongDesc string = `Send a single message to a relay server and print the streamed reply.

Examples:
  kyla ask "What is the capital of France?"
  kyla ask --session 6f1c... follow up question
  kyla ask --markdown "Show me a Go hello world"`

const askShortDesc string = "Send one message to a relay server"

type askCommander struct {
	server   string
	session  string
	markdown bool
	width    int
}

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&cmder.server, "server", "http://localhost:8080", "Relay server URL")
	cmd.Flags().StringVar(&cmder.session, "session", "", "Session to use (default: the shared session)")
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Wait for the full reply and render it as markdown")
	cmd.Flags().IntVar(&cmder.width, "width", 80, "Word wrap width for --markdown")

	return cmd
}

func (c *askCommander) run(ctx context.Context, cmd *cobra.Command, message string) error {
	cl := client.New(c.server, nil)
	cl.SessionID = c.session

	out := cmd.OutOrStdout()
	if !c.markdown {
		_, err := cl.Chat(ctx, message, out)
		fmt.Fprintln(out)
		return err
	}

	reply, err := cl.Chat(ctx, message, io.Discard)
	if err != nil {
		return err
	}

	rendered, err := termstyle.RenderMarkdown(out, reply, c.width)
	if err != nil {
		return fmt.Errorf("could not render reply: %w", err)
	}
	fmt.Fprint(out, rendered)
	return nil
}
