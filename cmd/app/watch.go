package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/oziev02/CommentSync/internal/cache"
	"github.com/oziev02/CommentSync/internal/config"
	httphandler "github.com/oziev02/CommentSync/internal/delivery/http"
	"github.com/oziev02/CommentSync/internal/domain"
	"github.com/oziev02/CommentSync/internal/eventbus"
	"github.com/oziev02/CommentSync/internal/infrastructure/api"
	"github.com/oziev02/CommentSync/internal/infrastructure/database"
	"github.com/oziev02/CommentSync/internal/infrastructure/push"
	"github.com/oziev02/CommentSync/internal/metrics"
	"github.com/oziev02/CommentSync/internal/notify"
	"github.com/oziev02/CommentSync/internal/usecase"
)

const connectTimeout = 15 * time.Second

func watchCmd(flags *globalFlags) *cobra.Command {
	var postID int64

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the comments of a listing post",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if flags.logLevel != "" {
				cfg.Log.Level = flags.logLevel
			}
			if flags.logFormat != "" {
				cfg.Log.Format = flags.logFormat
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cfg, postID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int64Var(&postID, "post", 0, "Listing post id")
	cmd.MarkFlagRequired("post")

	return cmd
}

// closer закрывает канал push-событий
type closer interface {
	Close() error
}

type pushChannel interface {
	domain.PushChannel
	closer
}

func runWatch(ctx context.Context, cfg *config.Config, postID int64, in io.Reader, out io.Writer) error {
	logger := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	source, cleanup, err := newSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	channel, err := newChannel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer channel.Close()

	store := cache.New(source, cache.Config{
		PageSize:     cfg.Sync.PageSize,
		GCTime:       cfg.Sync.GCTime,
		StaleTime:    cfg.Sync.StaleTime,
		FetchTimeout: cfg.Sync.FetchTimeout,
	}, logger, m)
	go store.RunGC(ctx, time.Minute)

	bus := eventbus.New(logger)
	notes := eventbus.Subscribe(bus, notify.Topic, func(n notify.Notification) {
		renderNotification(out, n)
	})
	defer notes.Unsubscribe()

	engine := usecase.NewCommentSync(usecase.Options{
		Store:      store,
		Source:     source,
		Channel:    channel,
		Bus:        bus,
		Logger:     logger,
		Metrics:    m,
		ReplyBatch: cfg.Sync.ReplyBatch,
	})

	if addr := cfg.Server.Addr(); addr != "" {
		shutdown := startDebugServer(addr, store, reg, logger)
		defer shutdown()
	}

	view, err := engine.Mount(ctx, postID)
	if err != nil {
		return err
	}
	defer view.Unmount()

	composer := usecase.NewComposer(view)
	defer composer.Close()

	updates := view.Watch()
	defer updates.Close()
	go func() {
		for e := range updates.C() {
			renderEntry(out, e)
		}
	}()

	fmt.Fprintln(out, usage)
	return readCommands(ctx, in, out, view, composer)
}

func readCommands(ctx context.Context, in io.Reader, out io.Writer, view *usecase.View, composer *usecase.Composer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
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
			cmd, err := parseCommand(line)
			if errors.Is(err, errEmptyCommand) {
				continue
			}
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if cmd.kind == cmdQuit {
				return nil
			}
			if err := execute(ctx, cmd, out, view, composer); err != nil {
				fmt.Fprintln(out, err)
			}
		}
	}
}

// execute выполняет команду. Ошибки запросов уже показаны через уведомления.
func execute(ctx context.Context, cmd command, out io.Writer, view *usecase.View, composer *usecase.Composer) error {
	switch cmd.kind {
	case cmdPost:
		composer.CancelReply()
		composer.Submit(ctx, cmd.text)
	case cmdReply:
		if err := view.StartReply(cmd.id); err != nil {
			return fmt.Errorf("reply: %w", err)
		}
		composer.Submit(ctx, cmd.text)
	case cmdCancel:
		composer.CancelReply()
	case cmdDelete:
		view.DeleteComment(ctx, cmd.id)
	case cmdMore:
		if !view.HasNextPage() {
			fmt.Fprintln(out, "all comments are loaded")
			return nil
		}
		view.FetchNextPage(ctx)
	case cmdExpand:
		if n, ok := view.Remaining(cmd.id); ok && n == 0 {
			fmt.Fprintln(out, "all replies are loaded")
			return nil
		}
		view.ExpandReplies(ctx, cmd.id)
	}
	return nil
}

func newSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.CommentSource, func(), error) {
	if cfg.Sync.Source == config.SourcePostgres {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("database connection established")
		return database.NewPostgresSource(pool), pool.Close, nil
	}

	client, err := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

func newChannel(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pushChannel, error) {
	if cfg.Push.Driver == config.PushNATS {
		ch, err := push.NewNATSChannel(cfg.Push.URL, cfg.Push.NATSPrefix, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	header := http.Header{}
	header.Set("X-Client-Id", uuid.NewString())
	ch := push.NewWebSocketChannel(push.WebSocketConfig{URL: cfg.Push.URL, Header: header}, logger)
	go func() {
		if err := ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("push channel stopped", "error", err)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ch.WaitConnected(waitCtx); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to connect push channel: %w", err)
	}
	return ch, nil
}

func startDebugServer(addr string, store *cache.Store, reg *prometheus.Registry, logger *slog.Logger) func() {
	var handler http.Handler = httphandler.NewRouter(store, reg)
	handler = httphandler.CORSMiddleware(handler)
	handler = httphandler.LoggingMiddleware(logger, handler)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting debug server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("debug server forced to shutdown", "error", err)
		}
		logger.Info("debug server exited")
	}
}
