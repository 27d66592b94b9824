package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/chess-table/internal/adminhttp"
	"github.com/park285/chess-table/internal/config"
	"github.com/park285/chess-table/internal/msgcat"
	"github.com/park285/chess-table/internal/obslog"
	"github.com/park285/chess-table/internal/publish"
	"github.com/park285/chess-table/internal/rules"
	"github.com/park285/chess-table/internal/table"
	"github.com/park285/chess-table/internal/wsserver"
)

func serveCmd() *cobra.Command {
	var listen, admin string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the table",
		Long: heredoc.Doc(`serve hosts the table. Clients connect with a websocket to
			/ws on the listen address. The admin address serves /healthz,
			/state and POST /reset.

			Settings come from the environment (TABLE_*, REDIS_URL, LOG_*);
			the flags below override the two addresses.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminAddr = admin
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":3000", "websocket listen address")
	cmd.Flags().StringVar(&admin, "admin", ":3001", "admin listen address (empty disables)")
	return cmd
}

func serve(cfg *config.AppConfig) error {
	logOpts := obslog.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Console: true}
	if cfg.LogToFile {
		logOpts.File = cfg.LogFile
	}
	if err := obslog.Init(logOpts); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	log := obslog.L()
	defer func() { _ = log.Sync() }()

	cat, err := msgcat.New(cfg.MessagesFile)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	hub := wsserver.NewHub(wsserver.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		PingInterval:   cfg.PingInterval,
		SendBuffer:     cfg.SendBuffer,
		RateBurst:      cfg.RateBurst,
		RateInterval:   cfg.RateInterval,
		Catalog:        cat,
	})
	opts := table.Options{Oracle: rules.NewChessOracle(), Sender: hub, Catalog: cat}
	if cfg.RedisURL != "" {
		pub, err := publish.NewRedisPublisher(cfg.RedisURL, cfg.RedisPrefix, cfg.SnapshotTTL)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		opts.Publisher = pub
		log.Info("publisher_enabled", zap.String("channel", pub.EventsChannel()), zap.String("key", pub.SnapshotKey()))
	}
	coord := table.NewCoordinator(opts)
	hub.Attach(coord)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(ctx) }()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srvErr := make(chan error, 2)
	go func() {
		log.Info("table_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- fmt.Errorf("websocket listener: %w", err)
		}
	}()

	var adm *adminhttp.Server
	if cfg.AdminAddr != "" {
		adm = adminhttp.New(coord)
		go func() {
			if err := adm.ListenAndServe(cfg.AdminAddr); err != nil {
				srvErr <- fmt.Errorf("admin listener: %w", err)
			}
		}()
	}

	var failure error
	select {
	case <-ctx.Done():
		log.Info("shutdown_signal")
	case failure = <-srvErr:
		log.Error("listener_failed", zap.Error(failure))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("websocket_shutdown", zap.Error(err))
	}
	if adm != nil {
		if err := adm.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin_shutdown", zap.Error(err))
		}
	}
	<-runErr
	return failure
}
