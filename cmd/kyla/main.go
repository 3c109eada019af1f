package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	askcmder "github.com/Venkie07/kyla-api/cmd/kyla/ask"
	chatcmder "github.com/Venkie07/kyla-api/cmd/kyla/chat"
	resetcmder "github.com/Venkie07/kyla-api/cmd/kyla/reset"
	servecmder "github.com/Venkie07/kyla-api/cmd/kyla/serve"
)

const kylaLongDesc string = `kyla relays chat turns to a hosted language model and streams
the reply back, keeping a bounded conversation history in memory.

Run "kyla serve" to start the relay, then talk to it with "kyla chat"
or "kyla ask".`

func newKylaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kyla",
		Short:         "Streaming chat relay for hosted LLMs",
		Long:          kylaLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(resetcmder.NewResetCmd())

	return cmd
}

func main() {
	if err := newKylaCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
