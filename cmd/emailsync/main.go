package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"emails-sync/internal/api"
	"emails-sync/internal/app"
	"emails-sync/internal/config"
	"emails-sync/internal/logging"
	"emails-sync/internal/models"
)

const usage = `usage: emailsync [-config config.yaml] <command>

commands:
  run      run one sync pass and print its result
  watch    run a pass every sync.refreshTime
  serve    expose POST /sync over HTTP
  records  print the most recently stored records
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	limit := flag.Int("limit", 20, "number of records printed by the records command")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Log.Fatalf("Error reading configuration file: %v", err)
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Log.Fatalf("Error initializing: %v", err)
	}
	defer a.Close()

	switch cmd {
	case "run":
		err = runOnce(ctx, a)
	case "watch":
		err = app.NewWatcher(a.Engine, cfg.Sync.RefreshTime, cfg.Sync.PassTimeout).Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case "serve":
		err = serve(ctx, a)
	case "records":
		err = printRecords(ctx, a, *limit)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logging.Log.Errorf("%s: %v", cmd, err)
		a.Close()
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, a *app.App) error {
	if a.Config.Sync.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Sync.PassTimeout)
		defer cancel()
	}

	result, err := a.Engine.RunSyncPass(ctx)
	_, resp := api.NewResponse(a.Config.Sync.SourceTag, result, err)
	if encErr := printJSON(resp); encErr != nil {
		return encErr
	}
	return err
}

func serve(ctx context.Context, a *app.App) error {
	auth, err := api.NewAuthorizer(a.Config.Auth)
	if err != nil {
		return err
	}
	handler := api.NewHandler(a.Engine, auth, a.Config.Sync.SourceTag, a.Config.Sync.PassTimeout)

	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Log.Infof("Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logging.Log.Info("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

func printRecords(ctx context.Context, a *app.App, limit int) error {
	records, err := a.Store.ListRecords(ctx, limit)
	if err != nil {
		return err
	}
	total, err := a.Store.CountRecords(ctx)
	if err != nil {
		return err
	}

	return printJSON(struct {
		Total   int                  `json:"total"`
		Records []models.EmailRecord `json:"records"`
	}{total, records})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
