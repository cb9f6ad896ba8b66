// Command broker is a command-line client for the broker backend. It keeps
// the session and account snapshot in local storage and can serve a local
// status API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"broker-client/pkg/api"
	"broker-client/pkg/balance"
	"broker-client/pkg/client"
	"broker-client/pkg/config"
	"broker-client/pkg/logging"

	"go.uber.org/zap"
)

const usage = `usage: broker [-config path] <command> [flags]

commands:
  login   -email <email> [-password <password>]   authenticate and store the session
  logout                                          revoke and clear the session
  balance [-force] [-json]                        show balance, summary and recent transactions
  serve                                           run the refresh scheduler, price feed and status API
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	global := flag.NewFlagSet("broker", flag.ContinueOnError)
	configPath := global.String("config", os.Getenv("BROKER_CONFIG"), "path to YAML config")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	logger, err := logging.NewLoggerFromEnv(cfg.Logging)
	if err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return 1
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "login":
		err = a.login(ctx, rest, stdout)
	case "logout":
		err = a.logout(ctx, stdout)
	case "balance":
		err = a.balance(ctx, rest, stdout)
	case "serve":
		err = a.serve(ctx)
	default:
		global.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case client.RedirectToLogin(err):
		fmt.Fprintln(stdout, client.MsgSessionExpired)
		return 1
	default:
		fmt.Fprintln(stdout, err)
		return 1
	}
}

func (a *app) login(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("BROKER_PASSWORD"), "account password (or BROKER_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.service.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Logged in as %s\n", sess.Username)

	if err := a.cache.Refresh(ctx, true); err != nil {
		a.logger.Warn("initial balance refresh failed", zap.Error(err))
	}
	return nil
}

func (a *app) logout(ctx context.Context, stdout io.Writer) error {
	err := a.service.Logout(ctx)
	if resetErr := a.cache.Reset(ctx); resetErr != nil {
		a.logger.Warn("failed to clear cached snapshot", zap.Error(resetErr))
	}
	if err != nil {
		a.logger.Warn("backend logout failed", zap.Error(err))
	}
	fmt.Fprintln(stdout, "Logged out")
	return nil
}

func (a *app) balance(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	force := fs.Bool("force", false, "bypass the cached snapshot")
	asJSON := fs.Bool("json", false, "print the snapshot as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if !sess.Authenticated() {
		return fmt.Errorf("not logged in, run: broker login -email <email>")
	}

	a.restore(ctx)
	if err := a.cache.Refresh(ctx, *force); err != nil {
		if client.RedirectToLogin(err) || !errors.Is(err, balance.ErrAllSlicesFailed) {
			return err
		}
		a.logger.Warn("showing cached data", zap.Error(err))
	}

	snap := a.cache.Snapshot()
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	printSnapshot(stdout, snap, a.cache.Recent(0))
	return nil
}

func printSnapshot(w io.Writer, snap balance.Snapshot, recent []balance.TransactionRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if snap.Balance != nil {
		fmt.Fprintf(tw, "Balance:\t%.2f %s\n", snap.Balance.Amount, snap.Balance.Currency)
	} else {
		fmt.Fprintf(tw, "Balance:\tunavailable\n")
	}
	if s := snap.Summary; s != nil {
		fmt.Fprintf(tw, "Profit/Loss:\t%.2f\n", s.ProfitLoss)
		fmt.Fprintf(tw, "Margin:\t%.2f\n", s.Margin)
		fmt.Fprintf(tw, "Opened position:\t%.2f\n", s.OpenedPosition)
		fmt.Fprintf(tw, "Free margin:\t%.2f\n", s.FreeMargin)
		fmt.Fprintf(tw, "Margin level:\t%.2f\n", s.MarginLevel)
	}
	if !snap.Timestamp.IsZero() {
		fmt.Fprintf(tw, "Updated:\t%s\n", snap.Timestamp.Local().Format(time.DateTime))
	}

	fmt.Fprintf(tw, "\nRecent transactions:\t%d\n", len(recent))
	for _, tx := range recent {
		fmt.Fprintf(tw, "  %s\t%s\t%+.2f\t%s\t%s\n",
			tx.Timestamp.Local().Format(time.DateTime), tx.Type, tx.Amount, tx.Status, tx.Method)
	}
}

func (a *app) serve(ctx context.Context) error {
	a.restore(ctx)

	scheduler := balance.NewScheduler(a.cache, a.sessions, a.cfg.Cache.RefreshSchedule)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()
	go scheduler.RunNow()

	deps := api.Deps{
		Sessions: a.sessions,
		Cache:    a.cache,
		Metrics:  a.collector,
		Gatherer: a.registry,
		Circuits: a.circuits(),
	}
	if a.cfg.PriceFeed.Enabled {
		feed := a.priceFeed()
		if err := feed.Start(ctx); err != nil {
			return err
		}
		defer feed.Stop()
		deps.Prices = feed
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = a.cfg.API.Listen
	server := api.NewServer(deps, serverConfig)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
