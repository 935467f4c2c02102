package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/mingdom/omninmo-sub001/internal/config"
	"github.com/mingdom/omninmo-sub001/internal/engine"
	"github.com/mingdom/omninmo-sub001/internal/loader"
	"github.com/mingdom/omninmo-sub001/internal/portfolio"
	"github.com/mingdom/omninmo-sub001/internal/reprice"
	"github.com/mingdom/omninmo-sub001/internal/simulation"
)

var (
	portfolioPath string
	asOfFlag      string
	compact       bool
)

// rootCmd is the base command for the exposure CLI
var rootCmd = &cobra.Command{
	Use:   "exposure",
	Short: "Portfolio exposure engine",
	Long: `exposure prices stock and option positions, rolls them up into a
beta-adjusted exposure summary, and sweeps hypothetical index moves.

Model settings (risk-free rate, base volatility, skew, cash-like threshold)
come from the same environment variables as the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portfolioPath, "file", "f", "portfolio.yaml", "Portfolio file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&asOfFlag, "as-of", "", "Valuation date YYYY-MM-DD (default: file as_of, else today)")
	rootCmd.PersistentFlags().BoolVar(&compact, "compact", false, "Write single-line JSON")
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and the portfolio file and builds an engine
// whose quote source is seeded from the file.
func setup() (*engine.Engine, *File, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()})))

	pf, err := ReadFile(portfolioPath)
	if err != nil {
		return nil, nil, err
	}
	asOf, err := pf.Date(asOfFlag)
	if err != nil {
		return nil, nil, err
	}

	agg, err := portfolio.NewAggregator(cfg.Model.CashLikeThreshold)
	if err != nil {
		return nil, nil, err
	}
	rp := reprice.New(cfg.Kernel(), cfg.Model.RiskFreeRate, cfg.Model.BaseVolatility, asOf)
	eng := engine.New(
		loader.New(pf.Source(), rp, cfg.Workers.Simulation),
		agg,
		simulation.New(rp, agg, cfg.Workers.Simulation),
	)
	return eng, pf, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// today is replaced in tests.
var today = func() time.Time { return time.Now().UTC() }
