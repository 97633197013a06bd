package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mglvsky/pairscan/internal/book"
	"github.com/mglvsky/pairscan/internal/discovery"
	"github.com/mglvsky/pairscan/internal/points"
	"github.com/mglvsky/pairscan/pkg/websocket"
)

//nolint:gochecknoglobals // Cobra boilerplate
var watchCmd = &cobra.Command{
	Use:   "watch <market-slug>",
	Short: "Watch live top-of-book quotes for one window",
	Long: `Subscribes to both outcome tokens of an up/down window and prints the
top of book on every update.

Example:
  pairscan watch btc-updown-15m-1770356700`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	slug := args[0]

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := discovery.NewClient(discovery.Config{
		BaseURL: cfg.GammaAPIURL,
		Logger:  logger,
	})

	asset := slug
	if ts := discovery.SlugTimestamp(slug); ts > 0 {
		asset = slug[:len(slug)-len(fmt.Sprintf("-updown-15m-%d", ts))]
	}
	info, err := client.FindMarketBySlug(ctx, slug, asset)
	if err != nil {
		return fmt.Errorf("fetch market: %w", err)
	}
	if info == nil {
		return fmt.Errorf("market %s not found or closed", slug)
	}

	fmt.Printf("Market:  %s\n", info.MarketID)
	fmt.Printf("Settles: %s (%s remaining)\n\n",
		info.SettlementTime.UTC().Format(time.RFC3339),
		time.Until(info.SettlementTime).Round(time.Second))

	stream := websocket.New(websocket.Config{
		URL:                   cfg.WSURL,
		DialTimeout:           10 * time.Second,
		PingInterval:          30 * time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     time.Minute,
		ReconnectBackoffMult:  2.0,
		EventBufferSize:       1024,
		Logger:                logger,
	})
	if err := stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	defer stream.Close()

	tokens := []string{info.YesTokenID, info.NoTokenID}
	if err := stream.Subscribe(ctx, tokens); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	mirror := book.NewMirror(logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			fmt.Println("\nStopped")
			return nil
		case ev, ok := <-stream.EventChan():
			if !ok {
				return nil
			}
			if err := mirror.Apply(ev); err != nil {
				continue
			}
			printPair(mirror, info.YesTokenID, info.NoTokenID)
		}
	}
}

func printPair(mirror *book.Mirror, yesToken, noToken string) {
	yes, no, ok := mirror.PairSnapshot(yesToken, noToken)
	if !ok {
		return
	}
	fmt.Printf("%s  YES %s  NO %s\n",
		time.Now().UTC().Format("15:04:05.000"),
		formatQuote(yes),
		formatQuote(no))
}

func formatQuote(q book.Quote) string {
	bid, ask := "-", "-"
	if q.HasBid {
		bid = points.Format(q.BidPoints)
	}
	if q.HasAsk {
		ask = points.Format(q.AskPoints)
	}
	side := fmt.Sprintf("%s/%s", bid, ask)
	if q.Crossed {
		side += " (crossed)"
	}
	return side
}
