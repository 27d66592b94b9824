package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/chess-table/internal/mirror"
	"github.com/park285/chess-table/internal/msgcat"
	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/internal/termview"
	"github.com/park285/chess-table/pkg/tabledto"
)

func playCmd() *cobra.Command {
	var (
		url      string
		retries  int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a table from the terminal",
		Long: heredoc.Doc(`play joins a table and draws the board after every update.
			Type a move as two squares, for example "e2e4" or "e2 e4".
			A fifth letter picks the promotion piece ("e7e8n"); the
			default is a queen. Type "quit" to leave.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := obslog.Init(obslog.Options{Level: logLevel, Format: "console"}); err != nil {
				return err
			}
			return play(cmd.InOrStdin(), cmd.OutOrStdout(), url, retries)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:3000/ws", "table websocket URL")
	cmd.Flags().IntVar(&retries, "retries", 5, "reconnect attempts after the link drops")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

func play(in io.Reader, out io.Writer, url string, retries int) error {
	cat := msgcat.Default()
	view := termview.New(out, cat)

	var m *mirror.Mirror
	handler := func(msg tabledto.Message) {
		m.Dispatch(msg)
		if msg.Type == tabledto.TypeReset {
			fmt.Fprintln(out, cat.Text("mirror.reset", nil))
		}
	}
	client := mirror.NewClient(url, handler, mirror.ClientOptions{
		MaxReconnectAttempts: retries,
		OnState: func(s mirror.State) {
			obslog.L().Info("mirror_state", zap.String("state", string(s)))
		},
	})
	m = mirror.New(rules.NewChessOracle(), client, view)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = client.Close(cctx)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "quit" || line == "exit" {
				return nil
			}
			from, to, promo, ok := parseMove(line)
			if !ok {
				fmt.Fprintln(out, view.Notice(mirror.ErrIllegalMove))
				continue
			}
			if err := m.GestureWithPromotion(ctx, from, to, promo); err != nil {
				fmt.Fprintln(out, view.Notice(err))
			}
		}
	}
}

// parseMove accepts "e2e4", "e2 e4", "e2-e4" and an optional promotion letter.
func parseMove(s string) (from, to, promo string, ok bool) {
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	if len(s) != 4 && len(s) != 5 {
		return "", "", "", false
	}
	from, to = s[:2], s[2:4]
	if len(s) == 5 {
		promo = s[4:]
	}
	return from, to, promo, true
}
