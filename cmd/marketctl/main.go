// Command marketctl runs operator tasks directly against the configured
// store: listing markets, inspecting portfolios, resolving markets and
// running the settlement and sampling passes by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/foresight/market-engine/internal/bootstrap"
	"github.com/foresight/market-engine/internal/config"
	"github.com/foresight/market-engine/internal/contract"
	"github.com/foresight/market-engine/internal/engine"
)

const usage = `usage: marketctl [-config file] <command> [args]

commands:
  markets [org]             list markets, newest first
  portfolio <user>          show balance and marked positions
  trades <market>           show a market's trade log
  history <market> [n]      show the latest price samples
  resolve <market> <outcome>
  settle                    pay holders of resolved markets
  sample                    record prices of open markets
`

func main() {
	configPath := flag.String("config", os.Getenv("MARKET_CONFIG"), "path to TOML config file (optional)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "marketctl:", err)
		os.Exit(1)
	}
	cfg.LogJSON = false

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(ctx, cfg, bootstrap.NewLogger(cfg, os.Stderr))
	if err != nil {
		fmt.Fprintln(os.Stderr, "marketctl:", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := run(ctx, app.Engine, os.Stdout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "marketctl: %v (kind %s)\n", err, engine.KindOf(err))
		app.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, eng *engine.Engine, out io.Writer, args []string) error {
	cmd, rest := args[0], args[1:]
	arg := func(i int, name string) (string, error) {
		if i >= len(rest) {
			return "", fmt.Errorf("%s: missing %s", cmd, name)
		}
		return rest[i], nil
	}

	switch cmd {
	case "markets":
		org := ""
		if len(rest) > 0 {
			org = rest[0]
		}
		markets, err := eng.ListMarkets(ctx, org)
		if err != nil {
			return err
		}
		return printMarkets(out, eng.Prices(), markets)

	case "portfolio":
		user, err := arg(0, "user")
		if err != nil {
			return err
		}
		pf, err := eng.Portfolio(ctx, user)
		if err != nil {
			return err
		}
		return printPortfolio(out, pf)

	case "trades":
		id, err := arg(0, "market")
		if err != nil {
			return err
		}
		trades, err := eng.Trades(ctx, id, "")
		if err != nil {
			return err
		}
		return printTrades(out, trades)

	case "history":
		id, err := arg(0, "market")
		if err != nil {
			return err
		}
		limit := 0
		if len(rest) > 1 {
			if _, err := fmt.Sscanf(rest[1], "%d", &limit); err != nil {
				return fmt.Errorf("history: bad limit %q", rest[1])
			}
		}
		samples, err := eng.PriceHistory(ctx, id, limit)
		if err != nil {
			return err
		}
		return printHistory(out, samples)

	case "resolve":
		id, err := arg(0, "market")
		if err != nil {
			return err
		}
		raw, err := arg(1, "outcome")
		if err != nil {
			return err
		}
		outcome, err := contract.Parse(raw)
		if err != nil {
			return err
		}
		if err := eng.ResolveMarket(ctx, id, outcome); err != nil {
			return err
		}
		fmt.Fprintf(out, "market %s resolved to %s; run settle to pay holders\n", id, outcome)
		return nil

	case "settle":
		entries, err := eng.RunSettlement(ctx)
		if perr := printSettlement(out, entries); perr != nil {
			return perr
		}
		return err

	case "sample":
		n, err := eng.SamplePrices(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sampled %d markets\n", n)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}
