package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"juryflow/auth"
	"juryflow/config"
	"juryflow/court"
	"juryflow/db"
	"juryflow/dispute"
	"juryflow/journal"
	"juryflow/jury"
	"juryflow/logging"
	"juryflow/migrations"
	"juryflow/rotation"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "juryflow",
		Short:        "Jury pool and dispute ledger service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("JURYFLOW_CONFIG"), "path to the YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}

	hashKey := &cobra.Command{
		Use:   "hash-key <admin-key>",
		Short: "Print the bcrypt hash of an admin key for auth.admin_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAdminKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	replay := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the court from the configured journal and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return replayJournal(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}

	root.AddCommand(serve, hashKey, replay)
	return root
}

// replayJournal restores the court without serving it, which is how an
// operator checks that a journal still replays after a deploy.
func replayJournal(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	j, closeJournal, err := openJournal(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	c, err := court.Restore(ctx, j)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	snap := c.Snapshot()
	counts := map[dispute.Status]int{}
	for _, d := range snap.Disputes {
		counts[d.Status]++
	}
	fmt.Fprintf(out, "members=%d active=%v last_swap=%s\n", len(snap.Members), snap.Active, snap.LastSwap.Format(time.RFC3339))
	fmt.Fprintf(out, "disputes=%d proposed=%d active=%d resolved=%d\n", len(snap.Disputes),
		counts[dispute.StatusProposed], counts[dispute.StatusActive], counts[dispute.StatusResolved])
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, closeJournal, err := openJournal(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	events := court.LogSink{Logger: logger.Named("events")}
	var relay *journal.Relay
	if pg, ok := j.(*journal.Postgres); ok && cfg.Journal.RelayInterval > 0 {
		relay = journal.NewRelay(pg.DB(), events,
			journal.WithInterval(cfg.Journal.RelayInterval),
			journal.WithRelayLogger(logger.Named("relay")))
	}

	opts := []court.Option{
		court.WithLogger(logger.Named("court")),
		court.WithAutoFinalize(cfg.Jury.AutoFinalize),
	}
	if relay == nil {
		opts = append(opts, court.WithSinks(events))
	}
	if cfg.Jury.Seed != "" {
		logger.Warn("jury draws use a fixed seed")
		opts = append(opts, court.WithEntropy(jury.FixedEntropy([]byte(cfg.Jury.Seed))))
	}
	c, err := court.Open(ctx, cfg.PoolConfig(), cfg.Jury.Members, j, opts...)
	if err != nil {
		return fmt.Errorf("open court: %w", err)
	}

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL,
		auth.WithAdminKeyHash(cfg.Auth.AdminKeyHash))
	if cfg.Auth.AdminKeyHash == "" {
		logger.Warn("auth.admin_key_hash unset; admin login disabled")
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      NewServer(c, authService, logger).Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if spec, ok := cfg.RotationSpec(); ok {
		sched, err := rotation.New(spec, c, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("juryflow stopped", zap.Error(err))
	return err
}

// openJournal returns the configured journal and a func releasing its
// resources.
func openJournal(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (court.Journal, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("memory journal: state is lost on exit")
		return journal.NewMemory(), func() {}, nil
	case config.DriverSQLite:
		s, err := journal.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite journal opened", zap.String("path", cfg.Path))
		return s, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap database pool: %w", err)
		}
		if cfg.AutoMigrate {
			migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := migrations.Apply(migrateCtx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		logger.Info("postgres journal ready")
		return journal.NewPostgres(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}
