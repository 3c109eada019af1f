package chatcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Venkie07/kyla-api/cmd/kyla/termstyle"
	"github.com/Venkie07/kyla-api/pkg/client"
)

const chatLongDesc string = `Chat with a running relay from the terminal.

Each line you type is sent as one turn and the reply is printed as it
streams in. Lines starting with a slash are commands:

  /reset    clear the conversation
  /history  show how many messages the server remembers
  /exit     leave

Examples:
  kyla chat
  kyla chat --server http://192.168.1.42:8080 --new-session`

const chatShortDesc string = "Interactive chat with a relay server"

type chatCommander struct {
	server     string
	session    string
	newSession bool
}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.server, "server", "http://localhost:8080", "Relay server URL")
	cmd.Flags().StringVar(&cmder.session, "session", "", "Session to join (default: the shared session)")
	cmd.Flags().BoolVar(&cmder.newSession, "new-session", false, "Start a fresh private session")

	return cmd
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	styles := termstyle.For(out)
	interactive := termstyle.IsTerminal(cmd.InOrStdin())

	cl := client.New(c.server, nil)
	cl.SessionID = c.session

	if c.newSession {
		id, err := cl.NewSession(ctx)
		if err != nil {
			return fmt.Errorf("could not create session: %w", err)
		}
		fmt.Fprintln(out, styles.Notice.Render("session "+id))
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		if interactive {
			fmt.Fprint(out, styles.User.Render("you › "))
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := c.command(ctx, cl, out, styles, line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}

		fmt.Fprint(out, styles.Assistant.Render("kyla › "))
		_, err := cl.Chat(ctx, line, out)
		fmt.Fprintln(out)

		var serr *client.StreamError
		if errors.As(err, &serr) {
			fmt.Fprintln(out, styles.Error.Render(serr.Error()))
			continue
		}
		if err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not read input: %w", err)
	}
	return nil
}

// command runs a slash command and reports whether the session should end.
func (c *chatCommander) command(ctx context.Context, cl *client.Client, out io.Writer, styles termstyle.Styles, line string) (bool, error) {
	switch line {
	case "/exit", "/quit":
		return true, nil
	case "/reset":
		status, err := cl.Reset(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, styles.Notice.Render(status))
	case "/history":
		h, err := cl.History(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, styles.Notice.Render(fmt.Sprintf("session %s: %d messages", h.SessionID, h.Depth)))
	default:
		fmt.Fprintln(out, styles.Error.Render("unknown command "+line))
	}
	return false, nil
}
