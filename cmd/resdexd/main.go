// Package main provides the resdexd daemon: the swap history and lifecycle
// service behind the wallet's DEX screens.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/config"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/dex"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/marketmaker"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/portfolio"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/price"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/rpc"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/internal/swapdb"
	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.resdex", "Data directory")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		daemonURL   = flag.String("mm-url", "", "Trading daemon RPC URL, overrides config")
		socketURL   = flag.String("mm-socket", "", "Trading daemon push channel URL, overrides config")
		userpass    = flag.String("mm-userpass", "", "Trading daemon userpass, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("resdexd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file.
	if *apiAddr != "" {
		cfg.RPC.ListenAddr = *apiAddr
	}
	if *daemonURL != "" {
		cfg.MarketMaker.URL = *daemonURL
	}
	if *socketURL != "" {
		cfg.MarketMaker.SocketURL = *socketURL
	}
	if *userpass != "" {
		cfg.MarketMaker.UserPass = *userpass
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logCfg := &logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	}
	if cfg.Logging.File != "" {
		f, err := logging.OpenFile(config.ExpandPath(cfg.Logging.File))
		if err != nil {
			log.Fatal("Failed to open log file", "error", err)
		}
		defer f.Close()
		logCfg.Output = f
	}
	log = logging.New(logCfg)
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.Path(*dataDir))

	dataPath := config.ExpandPath(cfg.DataDir)

	portfolios, err := portfolio.NewStore(filepath.Join(dataPath, "portfolios"))
	if err != nil {
		log.Fatal("Failed to open portfolio store", "error", err)
	}

	daemon := marketmaker.NewClient(marketmaker.Config{
		URL:       cfg.MarketMaker.URL,
		UserPass:  cfg.MarketMaker.UserPass,
		RateLimit: cfg.MarketMaker.RateLimit,
		Timeout:   cfg.MarketMaker.Timeout,
	})

	prices := price.New(price.Config{
		URL:      cfg.Price.URL,
		Fiat:     cfg.Price.Fiat,
		CacheTTL: cfg.Price.CacheTTL,
	})

	dexCfg := dex.Config{
		DataDir: dataPath,
		Swaps: swapdb.Config{
			TickInterval: cfg.Swaps.TickInterval,
			Retry: swapdb.RetryConfig{
				InitialInterval: cfg.Swaps.RetryInitial,
				MaxInterval:     cfg.Swaps.RetryMax,
				Multiplier:      2,
			},
			Prices: prices,
		},
		ElectrumServers: cfg.ElectrumServers,
	}
	if cfg.MarketMaker.PrivateURL != "" {
		dexCfg.PrivateDaemon = marketmaker.NewClient(marketmaker.Config{
			URL:       cfg.MarketMaker.PrivateURL,
			UserPass:  cfg.MarketMaker.UserPass,
			RateLimit: cfg.MarketMaker.RateLimit,
			Timeout:   cfg.MarketMaker.Timeout,
		})
	}

	svc := dex.NewService(dexCfg, daemon, portfolios)

	rpcServer := rpc.NewServer(svc)
	if err := rpcServer.Start(cfg.RPC.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	sockets := []string{cfg.MarketMaker.SocketURL}
	if cfg.MarketMaker.PrivateSocketURL != "" {
		sockets = append(sockets, cfg.MarketMaker.PrivateSocketURL)
	}
	for _, url := range sockets {
		if url == "" {
			continue
		}
		sock := marketmaker.NewSocket(url, svc.HandlePushMessage)
		g.Go(func() error {
			return sock.Run(gctx)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				st := svc.Status(gctx)
				log.Info("Status", "daemon", st.DaemonVersion, "unlocked", st.Portfolio != nil, "pending_writes", st.PendingWrites)
			}
		}
	})

	printBanner(log, cfg)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Background task failed", "error", err)
	}
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rpcServer.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Error("Error closing swap database", "error", err)
	}

	log.Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Info("  ResDEX daemon")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.RPC.ListenAddr)
	log.Infof("  WS:  ws://%s/ws", cfg.RPC.ListenAddr)
	log.Infof("  Trading daemon: %s", cfg.MarketMaker.URL)
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
