package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/broker/sim"
	"github.com/rustyeddy/ibsession/broker/wslink"
	"github.com/rustyeddy/ibsession/config"
	"github.com/rustyeddy/ibsession/logger"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/session"
)

var rootCmd = &cobra.Command{
	Use:   "ibsession",
	Short: "Trade US and ASX equities through an Interactive Brokers gateway",
	Long: `ibsession talks to an Interactive Brokers gateway and turns its event
stream into quotes, historical bars, account views and order tickets.

It provides tools for:
  - Snapshot quotes, live ticks and historical bars with ATR
  - Account summary, positions and open orders
  - Risk-based position sizing with an R-multiple ladder
  - Market, limit, stop, stop-limit, trailing and bracket orders
  - Market scanners

Run any command with --sim to use the built-in demo gateway.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	cfgFile  string
	useSim   bool
	exchange string

	cfg *config.Config
	log *logger.Log
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "use the in-memory demo gateway")
	rootCmd.PersistentFlags().StringVarP(&exchange, "exchange", "x", "", "listing exchange; ASX for Australian stocks, US otherwise")
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	c, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if useSim {
		c.Gateway.Transport = "sim"
	}

	l, err := logger.New(c.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger.SetDefault(l)

	cfg, log = c, l
	return nil
}

func linkFactory() func() broker.Link {
	if cfg.Gateway.Transport == "sim" {
		return func() broker.Link { return sim.Demo() }
	}
	return func() broker.Link {
		opts := []wslink.Option{
			wslink.WithLogger(log),
			wslink.WithRateLimit(cfg.Gateway.RateLimit, 1),
		}
		if cfg.Gateway.Path != "" {
			opts = append(opts, wslink.WithPath(cfg.Gateway.Path))
		}
		return wslink.New(opts...)
	}
}

func newManager() (*session.Manager, error) {
	hs, err := cfg.HandshakeTimeout()
	if err != nil {
		return nil, err
	}
	rq, err := cfg.RequestTimeout()
	if err != nil {
		return nil, err
	}
	return session.NewManager(linkFactory(),
		session.WithLogger(log),
		session.WithHandshakeTimeout(hs),
		session.WithRequestTimeout(rq),
		session.WithMarketDataType(cfg.Gateway.MarketDataType),
		session.WithATRPeriod(cfg.Risk.ATRPeriod),
	), nil
}

// withSession connects, runs fn and disconnects. Ctrl-C cancels ctx.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := newManager()
	if err != nil {
		return err
	}

	var opts []session.ConnectOption
	if cfg.Gateway.ClientID != 0 {
		opts = append(opts, session.WithClientID(cfg.Gateway.ClientID))
	}
	return m.WithSession(ctx, cfg.Gateway.Host, cfg.Port(), func(s *session.Session) error {
		return fn(ctx, s)
	}, opts...)
}

func instrument(symbol string) market.Instrument {
	return market.StockOn(exchange, symbol)
}
