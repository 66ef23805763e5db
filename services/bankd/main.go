package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"leverbank/config"
	"leverbank/native/bank"
	nativecommon "leverbank/native/common"
	"leverbank/native/oracle"
	"leverbank/observability/logging"
	"leverbank/services/bankd/feeds"
	"leverbank/services/bankd/server"
	"leverbank/storage"
)

// flatVault is a stand-in vault reporting a fixed borrow rate. Real vault
// integrations implement bank.Vault against external yield sources.
type flatVault struct {
	rateBps uint64
	held    *big.Int
}

func newFlatVault(rateBps uint64) *flatVault {
	return &flatVault{rateBps: rateBps, held: big.NewInt(0)}
}

func (v *flatVault) Deposit(amount *big.Int) (*big.Int, error) {
	v.held.Add(v.held, amount)
	return new(big.Int).Set(amount), nil
}

func (v *flatVault) Withdraw(shares *big.Int) (*big.Int, error) {
	v.held.Sub(v.held, shares)
	return new(big.Int).Set(shares), nil
}

func (v *flatVault) BalanceOfUnderlying(common.Address) (*big.Int, error) {
	return new(big.Int).Set(v.held), nil
}

func (v *flatVault) BorrowRateBps() uint64 { return v.rateBps }

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "bankd.toml", "path to bankd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.Setup("bankd", cfg.Environment, cfg.LogFile)

	owner := common.HexToAddress(cfg.OwnerAddress)
	treasury := common.HexToAddress(cfg.TreasuryAddress)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open ledger database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	router := oracle.NewCoreOracle(owner)
	aggregator := oracle.NewAggregator(owner, cfg.MaxDeviationCapBps)
	twap := oracle.NewTWAPAdapter(owner,
		cfg.Oracle.TWAPWindow.Duration, cfg.Oracle.TWAPSamples)

	tokens := make([]common.Address, 0, len(cfg.Tokens))
	delays := make([]time.Duration, 0, len(cfg.Tokens))
	thresholds := make([]uint64, 0, len(cfg.Tokens))
	sources := make([]oracle.PriceSource, 0, len(cfg.Tokens))
	for _, tokenCfg := range cfg.Tokens {
		token := common.HexToAddress(tokenCfg.Address)
		tokens = append(tokens, token)
		delays = append(delays, cfg.Oracle.MaxDelay.Duration)
		thresholds = append(thresholds, tokenCfg.LiquidationThresholdBps)
		sources = append(sources, aggregator)
		if err := aggregator.SetPrimarySources(owner, token,
			tokenCfg.MaxDeviationBps, []oracle.Adapter{twap}); err != nil {
			logger.Error("configure aggregator",
				slog.String("token", tokenCfg.Symbol),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if len(tokens) > 0 {
		if err := twap.SetMaxDelays(owner, tokens, delays); err != nil {
			logger.Error("configure staleness bounds", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := router.SetLiquidationThresholds(owner, tokens, thresholds); err != nil {
			logger.Error("configure thresholds", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := router.SetRoutes(owner, tokens, sources); err != nil {
			logger.Error("configure routes", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	engine := bank.NewEngine(owner, treasury, cfg.MinLiquidationThresholdBps)
	engine.SetState(bank.NewStore(db))
	engine.SetOracle(router)
	engine.RegisterSpell(bank.BasicSpellID, bank.BasicSpell{})
	engine.SetEmitter(logEmitter(logger))
	for _, vaultCfg := range cfg.Vaults {
		engine.RegisterVault(vaultCfg.Handle, newFlatVault(vaultCfg.BorrowRateBps))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Whitelisting needs a live oracle price and the TWAP history only warms
	// up once the poller delivers, so configured tokens and banks are listed
	// in the background as prices become available.
	go bootstrapListings(ctx, engine, owner, cfg, logger)

	if cfg.Oracle.FeedURL != "" {
		poller, err := feeds.NewPoller(cfg.Oracle.FeedURL,
			cfg.Oracle.PollInterval.Duration, twap, logger)
		if err != nil {
			logger.Error("configure feed poller", slog.String("error", err.Error()))
			os.Exit(1)
		}
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("feed poller stopped", slog.String("error", err.Error()))
			}
		}()
	}

	go runAccrualLoop(ctx, engine, tokensFromBanks(cfg.Banks), cfg.AccrueInterval.Duration, logger)

	srv := server.New(server.Config{
		Engine:     engine,
		Oracle:     router,
		Logger:     logger,
		Owner:      owner,
		AdminToken: cfg.AdminToken,
		ExecuteQuota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.ExecuteRateLimitPerMin,
			EpochSeconds:        60,
		},
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("bankd listening", slog.String("address", cfg.ListenAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.String("error", err.Error()))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve http", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

func bootstrapListings(ctx context.Context, engine *bank.Engine, owner common.Address, cfg *config.Config, logger *slog.Logger) {
	pendingTokens := make(map[common.Address]bool, len(cfg.Tokens))
	for _, tokenCfg := range cfg.Tokens {
		pendingTokens[common.HexToAddress(tokenCfg.Address)] = true
	}
	pendingBanks := append([]config.BankConfig(nil), cfg.Banks...)

	ticker := time.NewTicker(cfg.Oracle.PollInterval.Duration)
	defer ticker.Stop()
	for {
		for token := range pendingTokens {
			err := engine.WhitelistTokens(owner, []common.Address{token}, []bool{true})
			if err != nil {
				if !errors.Is(err, bank.ErrOracleNoSupport) {
					logger.Warn("whitelist token",
						slog.String("token", token.Hex()),
						slog.String("error", err.Error()))
				}
				continue
			}
			delete(pendingTokens, token)
			logger.Info("token whitelisted", slog.String("token", token.Hex()))
		}
		remaining := pendingBanks[:0]
		for _, bankCfg := range pendingBanks {
			token := common.HexToAddress(bankCfg.DebtToken)
			err := engine.Register(owner, token, bankCfg.SoftVault, bankCfg.HardVault,
				bankCfg.LiquidationThresholdBps)
			switch {
			case err == nil, errors.Is(err, bank.ErrBankAlreadyListed):
				logger.Info("bank listed", slog.String("token", bankCfg.DebtToken))
			case errors.Is(err, bank.ErrTokenNotWhitelisted):
				remaining = append(remaining, bankCfg)
			default:
				logger.Error("register bank",
					slog.String("token", bankCfg.DebtToken),
					slog.String("error", err.Error()))
			}
		}
		pendingBanks = remaining
		if len(pendingTokens) == 0 && len(pendingBanks) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func tokensFromBanks(banks []config.BankConfig) []common.Address {
	out := make([]common.Address, 0, len(banks))
	for _, b := range banks {
		out = append(out, common.HexToAddress(b.DebtToken))
	}
	return out
}

func runAccrualLoop(ctx context.Context, engine *bank.Engine, tokens []common.Address, interval time.Duration, logger *slog.Logger) {
	if len(tokens) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, token := range tokens {
				if err := engine.Accrue(token); err != nil && !errors.Is(err, bank.ErrBankNotListed) {
					logger.Warn("accrue failed",
						slog.String("token", token.Hex()),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}
