package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mintwatch/internal/chain"
	"mintwatch/internal/config"
	"mintwatch/internal/contracts"
	"mintwatch/internal/hmacauth"
	"mintwatch/internal/ledger"
	"mintwatch/internal/logger"
	"mintwatch/internal/metrics"
	"mintwatch/internal/minter"
	"mintwatch/internal/outcome"
	"mintwatch/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "stop" {
		os.Exit(stop())
	}
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config error: %v", err)
		return minter.ExitFatal
	}

	logr, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Printf("logger error: %v", err)
		return minter.ExitFatal
	}
	defer func() { _ = logr.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := metrics.NewRegistry()

	client, chainID, closeClient, err := newChainClient(ctx, cfg)
	if err != nil {
		logr.Error("chain client error", zap.Error(err))
		return minter.ExitFatal
	}
	defer closeClient()

	store, ledgerHealth, closeStore, err := newLedger(ctx, cfg.Output)
	if err != nil {
		logr.Error("ledger error", zap.Error(err))
		return minter.ExitFatal
	}
	defer closeStore()

	recorder, err := outcome.NewFileLogger(cfg.Output.SuccessLogPath, cfg.Output.FailureLogPath)
	if err != nil {
		logr.Error("outcome log error", zap.Error(err))
		return minter.ExitFatal
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			logr.Warn("closing outcome logs", zap.Error(err))
		}
	}()

	m := minter.New(client, recorder, store, minter.Config{
		FallbackUnitPrice: cfg.Mint.UnitPrice,
		Quantity:          cfg.Mint.Quantity,
		GasLimit:          cfg.Mint.GasLimit,
		MarkupPercent:     cfg.Mint.MarkupPercent,
		MaxAttempts:       cfg.Mint.MaxAttempts,
		ConfirmTimeout:    cfg.Mint.ConfirmTimeout,
		PollInterval:      cfg.Poll.Interval,
		MaxPolls:          cfg.Poll.MaxPolls,
		PollTimeout:       cfg.Poll.Timeout,
		LedgerKey:         ledger.Key(chainID, common.HexToAddress(cfg.Chain.ContractAddress), client.Address()),
	}, minter.Options{
		Logger:  logr,
		Metrics: reg,
	})

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	var statusServer *server.Server
	if cfg.Service.HTTPAddr != "" {
		statusServer = server.NewServer(server.Config{
			Addr:            cfg.Service.HTTPAddr,
			AdminHMACSecret: cfg.Service.AdminHMACSecret,
			HMACClockSkew:   cfg.Service.HMACClockSkew,
		}, logr, reg, client, ledgerHealth, stopRun)
	}

	var (
		res    minter.Result
		runErr error
	)
	g, gctx := errgroup.WithContext(runCtx)
	if statusServer != nil {
		g.Go(statusServer.Start)
	}
	g.Go(func() error {
		res, runErr = m.Run(gctx)
		if statusServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				logr.Warn("status server shutdown", zap.Error(err))
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logr.Error("status server failed", zap.Error(err))
		return minter.ExitFatal
	}

	code := minter.ExitCode(runErr)
	fields := []zap.Field{
		zap.Int("exit_code", code),
		zap.Int("attempts", res.Attempts),
		zap.Int("checks", res.Checks),
	}
	if res.Outcome != nil {
		fields = append(fields, zap.String("outcome", res.Outcome.Line()))
	}
	if runErr != nil {
		logr.Error("mintwatch finished", append(fields, zap.Error(runErr))...)
	} else {
		logr.Info("mintwatch finished", fields...)
	}
	return code
}

// newChainClient returns the RPC-backed client, or a scripted one for DRY_RUN.
// The chain id string feeds the ledger key.
func newChainClient(ctx context.Context, cfg *config.AppConfig) (chain.Client, string, func(), error) {
	if cfg.Chain.DryRun {
		return chain.NewFakeClient(), "dry-run", func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	ethClient, err := chain.NewEthClient(dialCtx, chain.EthClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		PrivateKeyHex:   cfg.Chain.PrivateKey,
		ContractAddress: cfg.Chain.ContractAddress,
		Methods: contracts.MintMethods{
			ReadyMethod: cfg.Chain.ReadyMethod,
			PriceMethod: cfg.Chain.PriceMethod,
			MintMethod:  cfg.Chain.MintMethod,
		},
	})
	if err != nil {
		return nil, "", nil, err
	}
	return ethClient, ethClient.ChainID().String(), ethClient.Close, nil
}

// newLedger prefers Postgres, then a JSON file, then memory. The second return
// is the value pinged by the health endpoint and is nil unless it can Ping.
func newLedger(ctx context.Context, cfg config.OutputConfig) (ledger.Store, any, func(), error) {
	switch {
	case cfg.LedgerDSN != "":
		pg, err := ledger.NewPostgresStore(ctx, cfg.LedgerDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return pg, pg, pg.Close, nil
	case cfg.LedgerPath != "":
		fs, err := ledger.NewFileStore(cfg.LedgerPath)
		if err != nil {
			return nil, nil, nil, err
		}
		return fs, nil, func() {}, nil
	default:
		return ledger.NewMemoryStore(), nil, func() {}, nil
	}
}

// stop asks a running instance to cancel via its signed stop endpoint.
func stop() int {
	if err := config.LoadEnvFile(); err != nil {
		log.Printf("config error: %v", err)
		return minter.ExitFatal
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Printf("config error: %v", err)
		return minter.ExitFatal
	}
	if cfg.Service.HTTPAddr == "" || cfg.Service.AdminHMACSecret == "" {
		log.Printf("STATUS_HTTP_ADDR and ADMIN_HMAC_SECRET are required to stop a running instance")
		return minter.ExitFatal
	}

	addr := cfg.Service.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	body := []byte(`{"reason":"cli"}`)
	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/v1/stop", addr), bytes.NewReader(body))
	if err != nil {
		log.Printf("build request: %v", err)
		return minter.ExitFatal
	}
	req.Header.Set("Content-Type", "application/json")
	if err := hmacauth.SignRequest(req, cfg.Service.AdminHMACSecret, time.Now()); err != nil {
		log.Printf("sign request: %v", err)
		return minter.ExitFatal
	}

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		log.Printf("stop request failed: %v", err)
		return minter.ExitFatal
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		log.Printf("stop rejected: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		return minter.ExitFatal
	}
	fmt.Println(strings.TrimSpace(string(raw)))
	return minter.ExitOK
}
