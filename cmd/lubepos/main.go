package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/lubepos/lubepos/cmd/lubepos/cli"
	"github.com/lubepos/lubepos/internal/app"
	"github.com/lubepos/lubepos/internal/observability"
	"github.com/lubepos/lubepos/jobs"
)

const usage = `usage: lubepos [command]

commands:
  serve              run the HTTP API (default)
  migrate            create the schema and the seed administrator
  import-products    bulk upsert a CSV price table
  purge              enqueue an export retention sweep`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Println(usage)
		return 0
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	if command == "purge" {
		if cfg.RedisAddr == "" {
			logger.Error("purge requires REDIS_ADDR")
			return 1
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer func() { _ = jobsCLI.Close() }()
		return jobsCLI.PurgeCommand(ctx, cli.PurgeOptions{})
	}

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("open runtime", slog.Any("error", err))
		return 1
	}
	defer rt.Close()

	switch command {
	case "serve":
		err = serve(ctx, rt)
	case "migrate":
		err = rt.migrate(ctx)
	case "import-products":
		return importProducts(ctx, rt, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", command, usage)
		return 2
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command, slog.Any("error", err))
		return 1
	}
	return 0
}

func serve(ctx context.Context, rt *runtime) error {
	if err := rt.migrate(ctx); err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	var (
		jobClient *jobs.Client
		inspector *asynq.Inspector
	)
	if rt.cfg.RedisAddr != "" {
		client, err := jobs.NewClient(rt.redisOpts())
		if err != nil {
			return err
		}
		jobClient = client
		defer func() { _ = jobClient.Close() }()
		inspector = asynq.NewInspector(rt.redisOpts())
		defer func() {
			if err := inspector.Close(); err != nil {
				rt.logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
	}

	server := &http.Server{
		Addr:         rt.cfg.AppAddr,
		Handler:      rt.router(metrics, jobClient, inspector),
		ReadTimeout:  rt.cfg.AppReadTimeout,
		WriteTimeout: rt.cfg.AppWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("starting http server", slog.String("addr", rt.cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		rt.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func importProducts(ctx context.Context, rt *runtime, args []string) int {
	fs := flag.NewFlagSet("import-products", flag.ContinueOnError)
	opts := cli.ImportOptions{}
	fs.StringVar(&opts.Path, "file", "", "CSV price table")
	fs.StringVar(&opts.ActorName, "as", "admin", "user the import is recorded under")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := rt.migrate(ctx); err != nil {
		rt.logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	return cli.NewImportCLI(rt.catalog, rt.store.Users()).ImportCommand(ctx, opts)
}
