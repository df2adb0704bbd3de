// Command arbmaker runs the spot/perpetual arbitrage market-making engine
// of spec.md: it wires a spot-buy ladder (internal/quote), a perpetual
// hedger (internal/hedge), fill reconciliation (internal/reconcile), close
// unwinding (internal/closetask), the tick loop (internal/coordinator) and
// the operator control channel (internal/control) and runs them together
// through internal/bootstrap.App, the teacher's signal-aware runner-group
// lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"arbmaker/internal/bootstrap"
	"arbmaker/internal/closetask"
	"arbmaker/internal/control"
	"arbmaker/internal/coordinator"
	"arbmaker/internal/core"
	"arbmaker/internal/hedge"
	"arbmaker/internal/journal"
	"arbmaker/internal/marketdata"
	"arbmaker/internal/notify"
	"arbmaker/internal/quote"
	"arbmaker/internal/reconcile"
	"arbmaker/internal/risk"
	"arbmaker/internal/safety"
	"arbmaker/internal/venue"
	"arbmaker/pkg/logging"
	"arbmaker/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// venueRateLimit is the REST request budget shared by every RESTClient, per
// spec.md §7's "Transient venue failure" retry policy operating alongside
// a steady request rate rather than an unbounded burst.
const venueRateLimit = rate.Limit(10)

// Public market-data WebSocket endpoints. REST and streaming live on
// different hosts for Binance-shaped venues, so these are distinct from
// VenueCredential.BaseURL rather than derived from it.
const (
	defaultSpotStreamURL = "wss://stream.binance.com:9443"
	defaultPerpStreamURL = "wss://fstream.binance.com"
)

// defaultUserDataStreamURL is the spot user-data (fill event) stream
// endpoint. Unlike the public streams above, Binance user-data streams are
// per-listen-key: a real deployment obtains the key via a REST call and
// renews it on a timer. venue.FillStream's own doc comment already scopes
// that renewal loop out of the adapter ("the caller supplies a ready wsURL,
// refreshed out of band"), so main.go wires a fixed endpoint here too and
// leaves listen-key issuance/renewal to the operator's surrounding deploy
// tooling rather than inventing it.
const defaultUserDataStreamURL = "wss://stream.binance.com:9443/ws"

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration file")
	flag.Parse()

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbmaker: %v\n", err)
		os.Exit(1)
	}

	tel, err := telemetry.Setup("arbmaker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbmaker: telemetry setup: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()
	if err := telemetry.InitMetrics(); err != nil {
		fmt.Fprintf(os.Stderr, "arbmaker: metrics init: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLoggerFromString(app.Cfg.App.LogLevel, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbmaker: invalid log_level: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	strategyCfg := app.Cfg.Strategy()
	feeCfg := app.Cfg.Fee()

	checker := safety.NewChecker(logger)
	if err := checker.CheckConfig(strategyCfg, feeCfg); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	spotCred, ok := app.Cfg.VenueCredentials(app.Cfg.Venues.Spot)
	if !ok {
		logger.Fatal("no credentials for spot venue", "venue", app.Cfg.Venues.Spot)
	}
	perpCred, ok := app.Cfg.VenueCredentials(app.Cfg.Venues.Perp)
	if !ok {
		logger.Fatal("no credentials for perp venue", "venue", app.Cfg.Venues.Perp)
	}

	spotClient := venue.NewRESTClient(spotCred.BaseURL, string(spotCred.APIKey), string(spotCred.SecretKey), venueRateLimit, logger)
	perpClient := venue.NewRESTClient(perpCred.BaseURL, string(perpCred.APIKey), string(perpCred.SecretKey), venueRateLimit, logger)
	gateway := venue.NewComposite(spotClient, perpClient)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if err := checker.CheckVenueConnectivity(ctx, gateway, strategyCfg); err != nil {
		logger.Fatal("venue connectivity check failed", "error", err)
	}

	journalStore, err := journal.Open(app.Cfg.Journal.Path)
	if err != nil {
		logger.Fatal("failed to open trade journal", "error", err)
	}
	defer journalStore.Close()

	notifier := notify.NewFromConfig(
		logger,
		string(app.Cfg.Notify.Slack.WebhookURL), app.Cfg.Notify.Slack.Enabled,
		string(app.Cfg.Notify.Telegram.BotToken), app.Cfg.Notify.Telegram.ChatID, app.Cfg.Notify.Telegram.Enabled,
	)
	defer notifier.Stop()

	state := core.NewEngineState()

	fillStream := venue.NewFillStream(defaultUserDataStreamURL, strategyCfg.SymbolSpot, logger)
	if err := fillStream.Start(ctx); err != nil {
		logger.Fatal("failed to start fill event stream", "error", err)
	}
	defer fillStream.Stop()
	hedger := hedge.New(gateway, state, notifier, logger, strategyCfg)
	synchronizer := quote.New(gateway, state, hedger, journalStore, logger, strategyCfg, feeCfg)
	reconciler := reconcile.New(fillStream, gateway, state, hedger, journalStore, logger, strategyCfg, core.SideBuy)
	closeTask := closetask.New(gateway, state, hedger, logger, strategyCfg, feeCfg)

	feed := marketdata.NewMarketFeed(defaultPerpStreamURL, defaultSpotStreamURL, logger)
	feed.Start()
	defer feed.Stop()

	coord := coordinator.New(state, feed, synchronizer, reconciler, hedger, logger, strategyCfg, feeCfg)
	coord.SetCircuitBreaker(risk.NewCircuitBreaker(risk.CircuitConfig{
		MaxConsecutiveLosses: 5,
		MaxDrawdownAmount:    strategyCfg.TotalBudgetBase.Mul(decimal.NewFromInt(2)),
		MaxDrawdownPercent:   decimal.NewFromFloat(0.1),
		CooldownPeriod:       15 * time.Minute,
	}))
	controlServer := control.New(app.Cfg.Control.SocketPath, logger, state, app.Cfg, synchronizer, coord, closeTask, gateway)

	if err := app.Run(coord, controlServer); err != nil {
		logger.Fatal("arbmaker exited with error", "error", err)
	}
}
