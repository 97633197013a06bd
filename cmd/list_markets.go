package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mglvsky/pairscan/internal/discovery"
	"github.com/mglvsky/pairscan/pkg/types"
)

//nolint:gochecknoglobals // Cobra boilerplate
var listMarketsCmd = &cobra.Command{
	Use:   "list-markets",
	Short: "Show the live up/down window for each asset",
	Long: `Queries the Gamma API for the currently live up/down window of each
requested asset and prints its tokens and settlement time. Useful for
checking discovery before starting the engine.`,
	RunE: runListMarkets,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(listMarketsCmd)
	listMarketsCmd.Flags().StringSliceP("assets", "a", []string{"btc", "eth"}, "Assets to look up")
}

func runListMarkets(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	assets, _ := cmd.Flags().GetStringSlice("assets")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := discovery.NewClient(discovery.Config{
		BaseURL: cfg.GammaAPIURL,
		Logger:  logger,
	})

	now := time.Now().UTC()
	markets := make([]*types.MarketInfo, 0, len(assets))
	for _, asset := range assets {
		info, err := client.FindActiveMarket(ctx, asset, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", asset, err)
			continue
		}
		markets = append(markets, info)
	}

	renderMarkets(os.Stdout, markets, now)
	return nil
}

func renderMarkets(out io.Writer, markets []*types.MarketInfo, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tSLUG\tSETTLES\tREMAINING\tTICK\tYES TOKEN\tNO TOKEN")
	for _, m := range markets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dpt\t%s\t%s\n",
			m.CryptoAsset,
			m.MarketID,
			m.SettlementTime.UTC().Format(time.RFC3339),
			m.SettlementTime.Sub(now).Round(time.Second),
			m.TickSizePoints,
			truncateToken(m.YesTokenID),
			truncateToken(m.NoTokenID),
		)
	}
	_ = w.Flush()
}

// truncateToken shortens the 70-plus digit token IDs for terminal output.
func truncateToken(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
