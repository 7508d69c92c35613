// Package main provides the entry point for sentinel, the autonomous
// Bitcoin market-intelligence and simulated-portfolio orchestrator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/btcintel/internal/agent"
	"github.com/atlas-desktop/btcintel/internal/clock"
	"github.com/atlas-desktop/btcintel/internal/config"
	"github.com/atlas-desktop/btcintel/internal/decisionlog"
	"github.com/atlas-desktop/btcintel/internal/hunter"
	"github.com/atlas-desktop/btcintel/internal/learning"
	"github.com/atlas-desktop/btcintel/internal/marketdata"
	"github.com/atlas-desktop/btcintel/internal/messagebus"
	"github.com/atlas-desktop/btcintel/internal/orchestrator"
	"github.com/atlas-desktop/btcintel/internal/store"
	"github.com/atlas-desktop/btcintel/pkg/types"
	"github.com/atlas-desktop/btcintel/pkg/utils"
)

// Exit codes, per spec.md §6.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitStoreError    = 2
	exitInternalError = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		args = []string{"run"}
	}
	subcommand := args[0]
	rest := args[1:]

	flags, overrideSet, err := parseFlags(rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, "flag error:", err)
		return exitConfigError
	}

	cfg, err := config.Load(flags.configPath, flags.overrides, overrideSet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()

	st, err := openStore(cfg.StoreDSN)
	if err != nil {
		logger.Error("store unreachable", zap.Error(err))
		return exitStoreError
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewRealClock()
	bus := messagebus.New(logger, messagebus.DefaultInboxSize)
	md := marketdata.NewHTTPMarketData(logger, marketdata.Config{
		NewsAPIKey:        cfg.NewsAPIKey,
		MarketAPIKey:      cfg.MarketAPIKey,
		DerivativesAPIKey: cfg.DerivativesAPIKey,
	})
	dlog := decisionlog.New(logger, st, decisionlog.DefaultFlushInterval, decisionlog.DefaultBufferCap)
	defer dlog.Close()
	sys := learning.New(cfg.LearningRate)

	orch := orchestrator.New(logger, clk, md, bus, st, dlog, sys, orchestrator.Config{
		Interval:     cfg.CycleInterval,
		LearningRate: cfg.LearningRate,
	})
	marketHunterAgent := seedRegistry(logger, orch)

	h := hunter.New(logger, marketHunterAgent, clk, md, bus, st, hunter.Config{
		Interval:        cfg.HunterInterval,
		MaxSources:      cfg.MaxSources,
		ExplorationRate: cfg.ExplorationRate,
		MinConfidence:   cfg.MinConfidence,
		Seed:            1,
	})
	defer h.Close()

	switch subcommand {
	case "run":
		return cmdRun(ctx, logger, orch, h)
	case "cycle-once":
		return cmdCycleOnce(ctx, logger, orch)
	case "hunter-once":
		return cmdHunterOnce(ctx, logger, h)
	case "status":
		return cmdStatus(ctx, logger, orch, st)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (want run|cycle-once|hunter-once|status)\n", subcommand)
		return exitConfigError
	}
}

func cmdRun(ctx context.Context, logger *zap.Logger, orch *orchestrator.Orchestrator, h *hunter.MarketHunter) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", zap.Error(err))
		return exitInternalError
	}
	go func() {
		if err := h.Start(ctx); err != nil {
			logger.Error("market hunter loop exited", zap.Error(err))
		}
	}()

	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server exited", zap.Error(err))
		}
	}()

	logger.Info("sentinel started", zap.String("subcommand", "run"))
	<-sigCh
	logger.Info("shutdown signal received")
	orch.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return exitOK
}

func cmdCycleOnce(ctx context.Context, logger *zap.Logger, orch *orchestrator.Orchestrator) int {
	if err := orch.RunCycleOnce(ctx); err != nil {
		logger.Error("strategic cycle failed", zap.Error(err))
		return exitInternalError
	}
	return exitOK
}

func cmdHunterOnce(ctx context.Context, logger *zap.Logger, h *hunter.MarketHunter) int {
	if err := h.RunCycleOnce(ctx); err != nil {
		logger.Error("hunter cycle failed", zap.Error(err))
		return exitInternalError
	}
	return exitOK
}

func cmdStatus(ctx context.Context, logger *zap.Logger, orch *orchestrator.Orchestrator, st store.Store) int {
	portfolio, err := st.ReadPortfolio(ctx)
	if err != nil {
		logger.Error("failed to read portfolio", zap.Error(err))
		return exitStoreError
	}
	fmt.Printf("portfolio: btc=%s usd=%s totalValueUsd=%s updatedAt=%s\n",
		utils.FormatMoney(decimal.NewFromFloat(portfolio.BTC), "BTC"),
		utils.FormatMoney(decimal.NewFromFloat(portfolio.USD), "USD"),
		utils.FormatMoney(decimal.NewFromFloat(portfolio.TotalValueUsd), "USD"),
		portfolio.UpdatedAt.Format(time.RFC3339))
	fmt.Println("agents:")
	for _, s := range orch.Statuses() {
		fmt.Printf("  %-24s autonomy=%.3f reputation=%.3f\n", s.ID, s.Autonomy, s.Reputation)
	}
	return exitOK
}

// seedRegistry constructs the five-agent roster spec.md's end-to-end
// scenarios name: the strategic-orchestrator meta-agent, three
// specialist agents (risk-sentinel, narrative-scout,
// execution-planner), plus MarketHunter itself, each
// registered with the orchestrator's autonomy/reputation bookkeeping.
// Returns the BaseAgent MarketHunter embeds.
func seedRegistry(logger *zap.Logger, orch *orchestrator.Orchestrator) *agent.BaseAgent {
	type seed struct {
		id       types.AgentId
		autonomy float64
	}
	seeds := []seed{
		{orchestrator.SystemAgentId, 0.95},
		{"risk-sentinel", 0.85},
		{"narrative-scout", 0.80},
		{"execution-planner", 0.75},
	}
	for _, s := range seeds {
		goals := defaultGoalTree(s.id)
		ba := agent.NewBaseAgent(logger, s.id, goals, defaultTraits(), s.autonomy)
		orch.RegisterAgent(ba)
	}

	hunterGoals := defaultGoalTree("market-hunter")
	hunterBase := agent.NewBaseAgent(logger, "market-hunter", hunterGoals, defaultTraits(), 0.80)
	orch.RegisterAgent(hunterBase)
	return hunterBase
}

func defaultTraits() map[types.TraitName]int {
	return map[types.TraitName]int{
		types.TraitAggression:     40,
		types.TraitRiskTolerance:  40,
		types.TraitPatience:       60,
		types.TraitCuriosity:      60,
		types.TraitCooperativeness: 70,
	}
}

func defaultGoalTree(owner types.AgentId) types.GoalTree {
	return types.GoalTree{
		Primary: types.Goal{
			ID:                     string(owner) + "-primary",
			Description:            "preserve and grow simulated portfolio value",
			Priority:               1.0,
			KPIs:                   map[string]bool{"totalValueUsd": true},
			AutonomouslyModifiable: false,
		},
		Secondary: []types.Goal{
			{
				ID:                     string(owner) + "-risk",
				Description:            "stay within the risk-per-trade cap",
				Priority:               0.6,
				KPIs:                   map[string]bool{"riskPerTrade": true},
				AutonomouslyModifiable: true,
			},
		},
	}
}

func openStore(dsn string) (store.Store, error) {
	if dsn == "" {
		return store.NewMemStore(), nil
	}
	return store.OpenSQLiteStore(dsn)
}

func setupLogger(level, file string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	outputs := []string{"stdout"}
	if file != "" {
		outputs = []string{file}
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		// Fallback: a logger we can always construct, so a logging
		// misconfiguration never prevents startup diagnostics.
		logger = zap.NewNop()
	}
	return logger
}
