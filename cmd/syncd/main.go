// Binary syncd runs the eBay ↔ Artifacte bid reconciliation engine and its
// control API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/HosicoStarChild/artifacte-seeker/internal/api"
	"github.com/HosicoStarChild/artifacte-seeker/internal/config"
	"github.com/HosicoStarChild/artifacte-seeker/internal/engine"
	"github.com/HosicoStarChild/artifacte-seeker/internal/metrics"
	"github.com/HosicoStarChild/artifacte-seeker/internal/platform"
	"github.com/HosicoStarChild/artifacte-seeker/internal/registry"
	"github.com/HosicoStarChild/artifacte-seeker/internal/retry"
	"github.com/HosicoStarChild/artifacte-seeker/internal/risk"
	"github.com/HosicoStarChild/artifacte-seeker/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(getEnv("SYNC_CONFIG", "config.yaml"))
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	reg, err := registry.Open(cfg.Sync.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open auction registry")
	}

	creds, err := platform.EbayCredentialsFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("ebay credentials")
	}
	ebay := platform.NewEbayClient(creds, cfg.Ebay.Sandbox, cfg.Ebay.SiteID, log,
		platform.WithEbayTimeout(millis(cfg.Ebay.RequestTimeout)))

	signer, err := platform.SignerFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("custodial signer")
	}
	if signer == nil {
		log.Warn().Msg("no custodial signer configured, artifacte pushes will raise operator alerts")
	}
	artifacte, err := platform.NewArtifacteClient(platform.ArtifacteParams{
		APIBase:      cfg.Artifacte.APIBase,
		RPCURL:       cfg.Artifacte.RPCURL,
		Treasury:     cfg.Artifacte.Treasury,
		Mint:         cfg.Artifacte.Mint,
		MintDecimals: cfg.Artifacte.MintDecimals,
		Commitment:   cfg.Artifacte.Commitment,
		Signer:       signer,
	}, log, platform.WithArtifacteTimeout(millis(cfg.Artifacte.RequestTimeout)))
	if err != nil {
		log.Fatal().Err(err).Msg("artifacte client")
	}

	opts := []engine.Option{engine.WithInterval(millis(cfg.Sync.PollInterval))}
	if cfg.Sync.EventLogPath != "" {
		recorder, err := engine.NewJSONLRecorder(cfg.Sync.EventLogPath)
		if err != nil {
			log.Fatal().Err(err).Msg("open sync event log")
		}
		defer recorder.Close()
		opts = append(opts, engine.WithRecorder(recorder))
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   millis(cfg.Retry.BaseDelay),
	}
	eng := engine.New(reg, ebay, artifacte, policy, risk.Limits{MaxBidPerPush: cfg.Sync.MaxBidPerPush}, log, opts...)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go eng.Run(ctx)

	srv := &http.Server{Addr: cfg.Sync.ListenAddr, Handler: api.New(reg, eng, log).Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control api stopped")
			cancel()
		}
	}()

	log.Info().
		Str("listen", cfg.Sync.ListenAddr).
		Dur("poll_interval", eng.Interval()).
		Int("auctions", reg.Len()).
		Msg("sync engine running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Stop accepting control requests; an in-flight pass finishes on its own.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
