package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "dev"

var runCmd = &cobra.Command{
	Use:     "run",
	Short:   "Log in and poll until a seat is reserved",
	PreRunE: bindFlags,
	RunE:    runReservation,
}

var checkCmd = &cobra.Command{
	Use:     "check",
	Short:   "Validate the config file and itinerary without opening a browser",
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, crit, err := loadRunConfig(viper.GetViper())
		if err != nil {
			return err
		}
		fmt.Printf("Config:    %s\n", cfgFile)
		fmt.Printf("Itinerary: %s\n", crit)
		fmt.Printf("Refresh:   %.1f-%.1fs\n", cfg.Pacing.RefreshMinSeconds, cfg.Pacing.RefreshMaxSeconds)
		fmt.Printf("Notify:    %d channel(s)\n", len(NewNotifier(cfg.Notify)))
		return nil
	},
}

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List the station names accepted as departure and arrival",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range StationNames() {
			fmt.Println(name)
		}
	},
}

var inspectCmd = &cobra.Command{
	Use:     "inspect",
	Short:   "Evaluate the ranked rows of a saved results page",
	PreRunE: bindFlags,
	RunE:    runInspect,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previous runs",
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("srtsniper " + version)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, checkCmd, inspectCmd} {
		cmd.Flags().String("from", "", "departure station (see 'srtsniper stations')")
		cmd.Flags().String("to", "", "arrival station")
		cmd.Flags().String("date", "", "travel date, YYYYMMDD")
		cmd.Flags().String("hour", "", "earliest departure hour, even hours 00-22")
		cmd.Flags().IntSlice("ranks", nil, "result rows to try, in priority order (e.g. 1,2)")
		cmd.Flags().Bool("waitlist", false, "join the waitlist when no seat is free")
	}

	runCmd.Flags().String("id", "", "SRT membership number, e-mail or phone (env SRT_ID)")
	runCmd.Flags().String("password", "", "SRT password (env SRT_PASSWORD)")
	runCmd.Flags().Bool("headless", false, "run the browser without a window")
	runCmd.Flags().Bool("debug", false, "enable debug logging")

	inspectCmd.Flags().String("html", "", "saved results page")
	_ = inspectCmd.MarkFlagRequired("html")

	historyCmd.Flags().Int("limit", 20, "number of runs to show, 0 for all")

	rootCmd.AddCommand(runCmd, checkCmd, stationsCmd, inspectCmd, historyCmd, versionCmd)
}

// bindFlags binds the flags of the command being executed, so commands that
// share flag names do not shadow each other.
func bindFlags(cmd *cobra.Command, args []string) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr := viper.BindPFlag(f.Name, f); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	return err
}

// applyOverrides copies flag and SRT_* environment values over cfg. Only
// non-zero values override the file.
func applyOverrides(v *viper.Viper, cfg *Config) {
	set := func(dst *string, key string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}

	set(&cfg.LoginID, "id")
	set(&cfg.LoginPassword, "password")
	set(&cfg.Notify.Slack.Token, "slack_token")
	set(&cfg.Notify.Slack.WebhookURL, "slack_webhook")
	set(&cfg.Notify.Email.Password, "smtp_password")

	set(&cfg.Itinerary.Departure, "from")
	set(&cfg.Itinerary.Arrival, "to")
	set(&cfg.Itinerary.Date, "date")
	set(&cfg.Itinerary.Hour, "hour")

	if ranks := v.GetIntSlice("ranks"); len(ranks) > 0 {
		cfg.Itinerary.Ranks = ranks
	}
	if v.GetBool("waitlist") {
		cfg.Itinerary.Waitlist = true
	}
	if v.GetBool("headless") {
		cfg.Headless = true
	}
	if v.GetBool("debug") {
		cfg.DebugMode = true
	}
}

func loadRunConfig(v *viper.Viper) (*Config, *Criteria, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	crit, err := cfg.Criteria()
	if err != nil {
		return nil, nil, err
	}
	return cfg, crit, nil
}

func runReservation(cmd *cobra.Command, args []string) error {
	cfg, crit, err := loadRunConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if cfg.DebugMode {
		_ = SetLogLevel("debug")
	}

	creds := Credentials{ID: cfg.LoginID, Password: cfg.LoginPassword}
	if !creds.Valid() {
		return errors.New("no credentials: set SRT_ID and SRT_PASSWORD or pass --id and --password")
	}

	printBanner(cfg, crit)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
				Log.WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	automation := NewAutomation(cfg)
	automation.onBrowserClosed = stop
	defer automation.Close()

	if err := automation.setupBrowser(); err != nil {
		return err
	}

	poller := NewPoller(automation, cfg, crit, NewNotifier(cfg.Notify))
	res, runErr := poller.Run(ctx, creds)

	recordHistory(cfg, res, crit, runErr)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	}

	fmt.Println()
	fmt.Println(res.String())

	if cfg.KeepBrowserOpenSeconds > 0 {
		Log.Info(T("keep_browser_open", cfg.KeepBrowserOpenSeconds))
		_ = sleepCtx(ctx, time.Duration(cfg.KeepBrowserOpenSeconds)*time.Second)
	}
	return nil
}

func printBanner(cfg *Config, crit *Criteria) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║ %-57s ║\n", T("banner_title"))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Itinerary: %s\n", crit)
	fmt.Printf("Browser Profile: %s\n", cfg.BrowserProfilePath)
	if cfg.DebugMode {
		fmt.Println("DEBUG MODE - Detailed logging enabled")
	}
	fmt.Println()
}

func recordHistory(cfg *Config, res RunResult, crit *Criteria, runErr error) {
	if cfg.HistoryPath == "" {
		return
	}
	h, err := OpenHistory(cfg.HistoryPath)
	if err != nil {
		Log.WithError(err).Warn("run history unavailable")
		return
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Record(ctx, res, crit, runErr); err != nil {
		Log.WithError(err).Warn("failed to record run")
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(viper.GetViper(), cfg)

	path, _ := cmd.Flags().GetString("html")
	snap, err := LoadSnapshot(path)
	if err != nil {
		return err
	}

	eval := NewEvaluator(snap, cfg)
	for _, rank := range cfg.Itinerary.Ranks {
		c, err := eval.Check(cmd.Context(), &ResultsView{}, rank)
		if err != nil {
			fmt.Printf("rank %d: %v\n", rank, err)
			continue
		}
		fmt.Printf("rank %d: seat=%s waitlist=%s\n", rank, c.Seat, c.Waitlist)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	limit, _ := cmd.Flags().GetInt("limit")

	h, err := OpenHistory(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer h.Close()

	entries, err := h.List(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, e := range entries {
		result := "not booked"
		if e.Booked {
			result = fmt.Sprintf("%s rank %d", e.Outcome, e.Rank)
		}
		line := fmt.Sprintf("%s  %s -> %s %s %s:00  %-18s %4d refreshes  %s",
			e.FinishedAt.Local().Format("2006-01-02 15:04"), e.Departure, e.Arrival, e.Date, e.Hour,
			result, e.Refreshes, e.Elapsed.Round(time.Second))
		if e.Error != "" {
			line += "  (" + e.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}
