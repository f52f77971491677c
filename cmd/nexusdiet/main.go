package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pbaille/nexusdiet/internal/api"
	"github.com/pbaille/nexusdiet/internal/cache"
	"github.com/pbaille/nexusdiet/internal/classifier"
	"github.com/pbaille/nexusdiet/internal/config"
	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/pbaille/nexusdiet/internal/engagement"
	"github.com/pbaille/nexusdiet/internal/extract"
	"github.com/pbaille/nexusdiet/internal/logger"
	"github.com/pbaille/nexusdiet/internal/messaging"
	"github.com/pbaille/nexusdiet/internal/nutrition"
	"github.com/pbaille/nexusdiet/internal/pipeline"
	"github.com/pbaille/nexusdiet/internal/store"
	"github.com/pbaille/nexusdiet/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// Simulated page geometry for captures: ten screens tall
const (
	simViewportHeight = 1000.0
	simDocumentHeight = 10 * simViewportHeight
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "nexusdiet",
		Short:        "Track the nutritional value of what you read",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("db", config.DefaultDBPath(), "database path")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("cache", "memory", "last-page cache backend (memory, redis)")
	rootCmd.PersistentFlags().String("redis", "localhost:6379", "redis address for the redis cache")
	rootCmd.PersistentFlags().String("dict", "", "category dictionary YAML (default: built-in)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(recentCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(categoriesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components shared by commands
type app struct {
	cfg         *config.Config
	log         logger.Logger
	store       *store.Store
	last        cache.LastSeen
	categorizer *classifier.KeywordCategorizer
	metrics     *telemetry.Metrics
	registry    *prometheus.Registry
	closers     []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}

	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	a.store, err = store.New(cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(cmd.Context()).Err(); err != nil {
			log.Warn("redis unreachable, last-page cache writes will fail", logger.Err(err))
		}
		a.last = cache.NewRedis(client, cfg.Cache.Redis.Key)
	default:
		a.last = cache.NewMemory()
	}

	dict := classifier.DefaultDictionary()
	if cfg.Classifier.Dictionary != "" {
		dict, err = classifier.LoadDictionaryFile(cfg.Classifier.Dictionary)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	a.categorizer = classifier.NewKeywordCategorizer(dict, log)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = telemetry.NewMetrics(a.registry)

	return a, nil
}

func (a *app) pipeline() *pipeline.Pipeline {
	return pipeline.New(a.categorizer, a.store, a.last, a.metrics, a.log)
}

func (a *app) throttle() engagement.Throttle {
	if a.cfg.Engagement.Throttle == "random" {
		return engagement.NewRandomSampler(a.cfg.Engagement.SampleProbability, nil)
	}
	return engagement.NewRateThrottle(a.cfg.Engagement.ThrottleInterval)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	_ = a.log.Sync()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.New(api.Deps{
				Visits:     a.store,
				Enricher:   a.pipeline(),
				Last:       a.last,
				Categories: a.categorizer.Dictionary().Labels(),
				Metrics:    a.metrics.Handler(),
				Logger:     a.log,
			}, a.cfg.Server.Address, a.cfg.Server.MaxBodyBytes)
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringP("addr", "a", ":8080", "server address")
	return cmd
}

func captureCmd() *cobra.Command {
	var readTime time.Duration
	var scroll int

	cmd := &cobra.Command{
		Use:   "capture [url]",
		Short: "Fetch a page, replay a reading session and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			page, err := extract.Fetch(ctx, args[0])
			if err != nil {
				return err
			}

			bus := messaging.NewBus(a.cfg.Bus.Buffer)
			worker := pipeline.NewWorker(a.pipeline(), bus.Messages(), a.log)
			done := make(chan error, 1)
			go func() { done <- worker.Run(ctx) }()

			session, err := replay(ctx, page, a.throttle(), readTime, scroll, bus, a.log)
			if err != nil {
				return err
			}
			bus.Close()
			if err := <-done; err != nil {
				return err
			}
			fmt.Printf("Session:   %s active, %d%% scrolled\n\n",
				time.Duration(session.ActiveReadTimeMs)*time.Millisecond, session.MaxScrollPercent)

			rec, ok, err := a.last.Last(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("visit was not recorded")
			}
			printVisit(rec)
			return nil
		},
	}

	cmd.Flags().DurationVar(&readTime, "read-time", 30*time.Second, "simulated active reading time")
	cmd.Flags().IntVar(&scroll, "scroll", 50, "simulated maximum scroll depth (percent)")
	return cmd
}

// replay runs an observer over a simulated session on a virtual clock: one
// scroll, one tick per second of readTime, then unload. The single emitted
// record goes to bus. It returns the session state as seen just before unload.
func replay(ctx context.Context, page domain.PageRecord, throttle engagement.Throttle, readTime time.Duration, scroll int, bus *messaging.Bus, log logger.Logger) (domain.PageRecord, error) {
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()) }

	gate := engagement.NewGate(page,
		engagement.Viewport{DocumentHeight: simDocumentHeight, ViewportHeight: simViewportHeight},
		engagement.WithThrottle(throttle),
		engagement.WithClock(now),
	)
	ticks := make(chan time.Time)
	obs := engagement.NewObserver(gate, bus, log, time.Second, engagement.WithTicks(ticks))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- obs.Run(runCtx) }()

	scrollTop := float64(domain.ClampPercent(scroll)) / 100 * (simDocumentHeight - simViewportHeight)
	if err := obs.Scroll(ctx, scrollTop, simDocumentHeight, simViewportHeight); err != nil {
		return domain.PageRecord{}, err
	}

	for i := time.Duration(0); i < readTime/time.Second; i++ {
		clock.Add(int64(time.Second))
		select {
		case ticks <- now():
		case <-obs.Done():
			return domain.PageRecord{}, engagement.ErrClosed
		case <-ctx.Done():
			return domain.PageRecord{}, ctx.Err()
		}
	}

	session, err := obs.CurrentPageData(ctx)
	if err != nil {
		return domain.PageRecord{}, err
	}
	if err := obs.Unload(ctx); err != nil {
		return domain.PageRecord{}, err
	}
	return session, <-done
}

func classifyCmd() *cobra.Command {
	var readTime time.Duration
	var scroll int

	cmd := &cobra.Command{
		Use:   "classify [url or text]",
		Short: "Show category scores and nutrition breakdown without recording",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			page, err := loadPage(cmd.Context(), args)
			if err != nil {
				return err
			}
			page.ActiveReadTimeMs = readTime.Milliseconds()
			page.MaxScrollPercent = scroll
			page = page.Normalize()

			category, err := a.categorizer.Categorize(cmd.Context(), page)
			if err != nil {
				return err
			}

			fmt.Printf("Title:    %s\n", truncate(page.DisplayTitle(), 70))
			fmt.Printf("Words:    %d\n", page.WordCount)
			fmt.Printf("Category: %s\n\n", category)

			for _, s := range a.categorizer.Scores(page) {
				fmt.Printf("  %-14s %3d\n", s.Label, s.Score)
			}

			b := nutrition.Explain(page, category)
			fmt.Printf("\nNutrition: %d/10\n", b.Score)
			fmt.Printf("  baseline   %+d\n", b.Baseline)
			fmt.Printf("  category   %+d\n", b.Category)
			fmt.Printf("  length     %+d (actually read: %t)\n", b.Length, b.ActuallyRead)
			if b.Raw != b.Score {
				fmt.Printf("  clamped from %d\n", b.Raw)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&readTime, "read-time", 30*time.Second, "assumed active reading time")
	cmd.Flags().IntVar(&scroll, "scroll", 50, "assumed maximum scroll depth (percent)")
	return cmd
}

func recentCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent visits",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			visits, err := a.store.RecentVisits(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(visits) == 0 {
				fmt.Println("No visits yet. Use 'nexusdiet capture' or the browser extension to record one.")
				return nil
			}

			printVisits(visits)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of visits to show")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search visits by url or title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			visits, err := a.store.SearchVisits(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			if len(visits) == 0 {
				fmt.Println("No matching visits found.")
				return nil
			}

			printVisits(visits)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of visits to show")
	return cmd
}

func statsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show today's reading totals and recent daily words",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Today: %d pages, %d words\n\n", stats.PagesToday, stats.WordsToday)

			totals, err := a.store.DailyWords(cmd.Context(), days)
			if err != nil {
				return err
			}

			peak := 1
			for _, d := range totals {
				peak = max(peak, d.Words)
			}
			for _, d := range totals {
				bar := strings.Repeat("#", d.Words*40/peak)
				fmt.Printf("%s  %6d  %s\n", d.Date, d.Words, bar)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "number of days to chart")
	return cmd
}

func categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List categories and their trigger words",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			for _, c := range a.categorizer.Dictionary().Categories() {
				fmt.Printf("%s\n  %s\n", c.Label, truncate(strings.Join(c.Triggers, ", "), 76))
			}
			return nil
		},
	}
}

func printVisit(v domain.EnrichedRecord) {
	fmt.Printf("ID:        %d\n", v.ID)
	fmt.Printf("URL:       %s\n", v.URL)
	fmt.Printf("Title:     %s\n", truncate(v.DisplayTitle(), 70))
	fmt.Printf("Words:     %d\n", v.WordCount)
	fmt.Printf("Read:      %s, %d%% scrolled\n", time.Duration(v.ActiveReadTimeMs)*time.Millisecond, v.MaxScrollPercent)
	if !v.Enriched() {
		fmt.Println("Category:  (not categorized)")
		return
	}
	fmt.Printf("Category:  %s\n", v.Category)
	fmt.Printf("Nutrition: %d/10\n", *v.NutritionScore)
}

func printVisits(visits []domain.EnrichedRecord) {
	for _, v := range visits {
		score := " -"
		if v.NutritionScore != nil {
			score = fmt.Sprintf("%2d", *v.NutritionScore)
		}
		category := v.Category
		if category == "" {
			category = "-"
		}
		fmt.Printf("%5d  %s  %-14s %s\n", v.ID, score, category, truncate(v.DisplayTitle(), 50))
	}
}

// loadPage fetches a single URL argument, or treats the arguments as the page text
func loadPage(ctx context.Context, args []string) (domain.PageRecord, error) {
	if len(args) == 1 && extract.IsURL(args[0]) {
		return extract.Fetch(ctx, args[0])
	}
	rec := domain.PageRecord{ContentClean: strings.Join(args, " ")}
	return rec.Normalize(), nil
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
