package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"yachtlog-go/internal/app"
	"yachtlog-go/internal/auth"
	"yachtlog-go/internal/config"
	"yachtlog-go/internal/logger"
	"yachtlog-go/internal/storage"
	"yachtlog-go/internal/yacht"
)

const usage = `Usage: yachtlog [-config FILE] <command> [arguments]

Commands:
  login                       sign in through the browser
  logout                      remove stored tokens
  status                      show whether a token is held
  search [-page N] QUERY      search the yacht index
  positions YACHT_ID          list recorded positions of a yacht
  add-position -yacht ID -lat LAT -lon LON [-time RFC3339] [-notes TEXT]
  import-positions FILE       upload a JSON array of positions
  serve                       run the local API and metrics endpoint
  keygen                      print a new storage encryption key
`

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("yachtlog", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "", "path to config file (default: $XDG_CONFIG_HOME/yachtlog/config.json)")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if global.NArg() == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	command, cmdArgs := global.Arg(0), global.Args()[1:]

	switch command {
	case "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "keygen":
		key, err := storage.GenerateKey()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, key)
		return 0
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create application: %v\n", err)
		return 1
	}
	defer func() {
		if err := application.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	if err := handler(ctx, application, cmdArgs, stdout, stderr); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

type commandFunc func(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error

var commands = map[string]commandFunc{
	"login":            runLogin,
	"logout":           runLogout,
	"status":           runStatus,
	"search":           runSearch,
	"positions":        runPositions,
	"add-position":     runAddPosition,
	"import-positions": runImport,
	"serve":            runServe,
}

func runLogin(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	open := a.Session.Open
	a.Session.Open = func(url string) error {
		fmt.Fprintf(stderr, "Opening the browser to sign in. If it does not open, visit:\n\n  %s\n\n", url)
		if err := open(url); err != nil {
			a.Logger.Warn("could not open browser", "error", err)
		}
		return nil
	}

	if _, err := a.Auth.Login(ctx); err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) && authErr.Kind == auth.KindUserCancelled {
			return errors.New("authentication failed: sign-in was cancelled")
		}
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Fprintln(stdout, "Signed in.")
	return nil
}

func runLogout(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	if err := a.Auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Signed out.")
	return nil
}

func runStatus(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	if a.Auth.State().IsAuthenticated {
		fmt.Fprintln(stdout, "authenticated")
	} else {
		fmt.Fprintln(stdout, "not authenticated")
	}

	st, err := a.StorageStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading storage status: %w", err)
	}
	switch {
	case st.Backend == "memory":
		fmt.Fprintln(stdout, "storage: memory (tokens are not persisted)")
	case st.Dirty:
		fmt.Fprintf(stdout, "storage: sqlite, schema version %d (dirty, migration incomplete)\n", st.SchemaVersion)
	default:
		fmt.Fprintf(stdout, "storage: sqlite, schema version %d\n", st.SchemaVersion)
	}
	return nil
}

func runSearch(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(stderr)
	page := fs.Int("page", 0, "zero-based result page")
	pageSize := fs.Int("page-size", 0, "results per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := a.Yachts.Search(ctx, strings.Join(fs.Args(), " "), *page, *pageSize)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBUILDER\tYEAR\tLENGTH\tPREVIOUSLY")
	for _, y := range result.Yachts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.1fm\t%s\n", y.ID, y.Name, y.Builder, y.BuildYear, y.Length, strings.Join(y.PreviousNames, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\n%d result(s), page %d", result.Total, result.Page)
	if result.HasMore {
		fmt.Fprintf(stdout, ", more with -page %d", result.Page+1)
	}
	fmt.Fprintln(stdout)
	return nil
}

func runPositions(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: yachtlog positions YACHT_ID")
	}

	positions, err := a.Yachts.Positions(ctx, args[0])
	if err != nil {
		return fmt.Errorf("listing positions failed: %w", err)
	}
	if len(positions) == 0 {
		fmt.Fprintln(stdout, "No positions available")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tLAT\tLON\tNOTES")
	for _, p := range positions {
		fmt.Fprintf(tw, "%s\t%s\t%.5f\t%.5f\t%s\n", p.ID, p.DateTime.Format(time.RFC3339), p.Lat, p.Lon, p.Notes)
	}
	return tw.Flush()
}

func runAddPosition(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("add-position", flag.ContinueOnError)
	fs.SetOutput(stderr)
	yachtID := fs.String("yacht", "", "yacht id")
	lat := fs.Float64("lat", 0, "latitude in decimal degrees")
	lon := fs.Float64("lon", 0, "longitude in decimal degrees")
	when := fs.String("time", "", "observation time, RFC3339 (default: now)")
	notes := fs.String("notes", "", "up to 140 characters")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := yacht.PositionInput{YachtID: *yachtID, DateTime: time.Now(), Lat: *lat, Lon: *lon, Notes: *notes}
	if *when != "" {
		t, err := time.Parse(time.RFC3339, *when)
		if err != nil {
			return fmt.Errorf("invalid -time: %w", err)
		}
		in.DateTime = t
	}

	created, err := a.Yachts.AddPosition(ctx, in)
	if err != nil {
		return fmt.Errorf("adding position failed: %w", err)
	}
	fmt.Fprintf(stdout, "Position added (%.5f, %.5f at %s)\n", created.Lat, created.Lon, created.DateTime.Format(time.RFC3339))
	return nil
}

func runImport(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: yachtlog import-positions FILE")
	}

	inputs, err := app.ReadPositionsFile(args[0])
	if err != nil {
		return err
	}
	if err := a.Start(ctx, false); err != nil {
		return err
	}

	result, err := a.ImportPositions(ctx, inputs)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Fprintf(stdout, "Uploaded %d of %d position(s)\n", result.Uploaded, result.Submitted)
	for _, f := range result.Failed {
		fmt.Fprintf(stdout, "  failed: %s\n", f)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d position(s) could not be uploaded", len(result.Failed))
	}
	return nil
}

func runServe(ctx context.Context, a *app.Application, args []string, stdout, stderr io.Writer) error {
	if err := a.Start(ctx, true); err != nil {
		return err
	}
	a.Logger.Info("serving local api", "addr", a.HttpServer.Addr, "metrics", a.MetricsServer.Addr)

	<-ctx.Done()
	a.Logger.Info("shutdown signal received")
	return nil
}
