package main

import (
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
)

func main() {
	if err := root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chess-table:", err)
		os.Exit(1)
	}
}

func root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chess-table",
		Short: "A shared two-seat chess table over websockets",
		Long: heredoc.Doc(`chess-table runs one chess board that any number of clients
			can join. The first two connections take the white and black
			seats; everyone after them watches.

			Use "serve" to host the table and "play" to join one from a
			terminal.`),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(playCmd())
	return cmd
}
