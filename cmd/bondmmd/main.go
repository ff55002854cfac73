package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bondmm/config"
	"bondmm/events"
	"bondmm/fixedpoint"
	"bondmm/gateway"
	"bondmm/ledger"
	"bondmm/observability/logging"
	"bondmm/oracle"
	"bondmm/pool"
	"bondmm/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to bondmmd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BONDMM_ENV"))
	logger := logging.Setup("bondmmd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "positions"))
	if err != nil {
		logger.Error("open position database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := pool.NewPositionStore(db)
	if err != nil {
		logger.Error("open position store", "error", err)
		os.Exit(1)
	}

	poolAccount := common.HexToAddress(cfg.PoolAccount)
	lgr := ledger.NewMemLedger(poolAccount)
	if strings.TrimSpace(cfg.OperatorAccount) != "" {
		balance, err := fixedpoint.FromDecimal(cfg.OperatorBalance)
		if err != nil {
			logger.Error("parse operator balance", "error", err)
			os.Exit(1)
		}
		lgr.Mint(common.HexToAddress(cfg.OperatorAccount), balance)
	}

	anchorRate, err := fixedpoint.FromDecimal(cfg.Oracle.AnchorRate)
	if err != nil {
		logger.Error("parse anchor rate", "error", err)
		os.Exit(1)
	}
	fallbackRate, err := fixedpoint.FromDecimal(cfg.Oracle.FallbackRate)
	if err != nil {
		logger.Error("parse fallback rate", "error", err)
		os.Exit(1)
	}
	source := oracle.NewStaticSource(anchorRate)
	adapter, err := oracle.NewAdapter(source, fallbackRate)
	if err != nil {
		logger.Error("configure oracle adapter", "error", err)
		os.Exit(1)
	}
	adapter.SetLogger(logger)

	engine := pool.NewEngine(poolAccount, store, lgr, adapter)
	engine.SetLogger(logger)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)

	if err := applyPoolConfig(engine, cfg.Pool); err != nil {
		logger.Error("apply pool configuration", "error", err)
		os.Exit(1)
	}

	server := gateway.New(engine, recorder, logger, gateway.Options{
		JWTSecret:       cfg.AdminJWTSecret,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "address", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway server", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("bondmmd stopped")
}

func applyPoolConfig(engine *pool.Engine, cfg config.PoolConfig) error {
	// Max before min so a widened window validates in either order.
	if cfg.MaxMaturitySeconds > 0 {
		if err := engine.SetMaxMaturity(cfg.MaxMaturitySeconds); err != nil {
			return err
		}
	}
	if cfg.MinMaturitySeconds > 0 {
		if err := engine.SetMinMaturity(cfg.MinMaturitySeconds); err != nil {
			return err
		}
	}
	if cfg.GracePeriodSeconds > 0 {
		if err := engine.SetGracePeriod(cfg.GracePeriodSeconds); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.CollateralRatio) != "" {
		v, err := fixedpoint.FromDecimal(cfg.CollateralRatio)
		if err != nil {
			return err
		}
		if err := engine.SetCollateralRatio(v); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.SolvencyThreshold) != "" {
		v, err := fixedpoint.FromDecimal(cfg.SolvencyThreshold)
		if err != nil {
			return err
		}
		if err := engine.SetSolvencyThreshold(v); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.LiquidationPenalty) != "" {
		v, err := fixedpoint.FromDecimal(cfg.LiquidationPenalty)
		if err != nil {
			return err
		}
		if err := engine.SetLiquidationPenalty(v); err != nil {
			return err
		}
	}
	return nil
}
