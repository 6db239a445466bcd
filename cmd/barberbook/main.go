package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barberbook/internal/api"
	"barberbook/internal/availability"
	"barberbook/internal/clock"
	"barberbook/internal/closure"
	"barberbook/internal/config"
	"barberbook/internal/database"
	"barberbook/internal/domain"
	"barberbook/internal/events"
	"barberbook/internal/export"
	"barberbook/internal/logging"
	"barberbook/internal/metrics"
	"barberbook/internal/models"
	"barberbook/internal/notify"
	"barberbook/internal/reconciler"
	"barberbook/internal/repository"
	"barberbook/internal/waitlist"
	"barberbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// useConfigDir marks a bare --export-availability.
const useConfigDir = "-"

type options struct {
	configPath    string
	reconcileOnce bool
	exportDir     string
	exportDays    int
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func parseFlags() (options, error) {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}

	var opts options
	flagSet := pflag.NewFlagSet("barberbook", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", defaultConfig, "path to config.yaml (env CONFIG_PATH)")
	flagSet.BoolVar(&opts.reconcileOnce, "reconcile-once", false, "run one reconciliation pass and exit")
	flagSet.StringVar(&opts.exportDir, "export-availability", "", "write the availability grid to this directory and exit (default exports.path)")
	flagSet.Lookup("export-availability").NoOptDefVal = useConfigDir
	flagSet.IntVar(&opts.exportDays, "export-days", 0, "number of days in the export (default exports.days)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return opts, err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", args[0])
	}
	return opts, nil
}

func run() error {
	opts, err := parseFlags()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, logger, closer, err := loadConfigAndLogger(opts.configPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	loc := cfg.Shop.Location()
	clk := clock.Real()
	rec := reconciler.New(reconciler.Options{
		Barbers:        db,
		Schedules:      db,
		Closures:       db,
		Clock:          clk,
		Location:       loc,
		WindowDays:     cfg.Reconciler.WindowDays,
		ProtectedDates: cfg.Reconciler.ProtectedDates,
		AutoClosures:   cfg.Reconciler.AutoClosures,
		Logger:         &logger,
	})

	if opts.reconcileOnce {
		report, err := rec.Run(ctx)
		logger.Info().Interface("report", report).Msg("reconciliation pass finished")
		return err
	}

	index := closure.NewIndex(db, db, &logger).WithBarbers(db)
	resolver := availability.NewResolver(db, db, index, clk, loc, &logger)

	if opts.exportDir != "" {
		dir := opts.exportDir
		if dir == useConfigDir {
			dir = cfg.Exports.Path
		}
		days := opts.exportDays
		if days <= 0 {
			days = cfg.Exports.Days
		}
		path, err := export.NewExporter(db, resolver, dir, &logger).Export(ctx, clk.Now().In(loc), days)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}

	startMetrics(ctx, cfg, &logger)

	redisClient, locker := initLocker(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	bus := events.NewEventBus()
	subscribeEvents(bus, &logger)

	bot, transport := initTransport(cfg, db, &logger)
	notifications := worker.NewNotificationWorker(db, transport, redisClient, worker.RetryPolicyFrom(cfg.Notifications), &logger)
	go notifications.Start(ctx)

	engine := waitlist.NewEngine(waitlist.Options{
		Store:       db,
		Barbers:     db,
		Bookings:    db,
		Notifier:    notifications,
		Locker:      locker,
		Events:      bus,
		Clock:       clk,
		Location:    loc,
		OfferTTL:    config.Duration(cfg.Waitlist.OfferTTL, models.DefaultOfferTTL),
		HotOfferTTL: config.Duration(cfg.Waitlist.HotOfferTTL, models.DefaultHotOfferTTL),
		Logger:      &logger,
	})
	go engine.RunSweeper(ctx, config.Duration(cfg.Waitlist.SweepInterval, time.Minute))

	if bot != nil {
		respond := func(ctx context.Context, entryID string, response models.Response) error {
			_, err := engine.Respond(ctx, entryID, response)
			return err
		}
		go notify.NewCallbackListener(bot, respond, db, db, &logger).Start(ctx)
	}

	if cfg.Reconciler.Enabled {
		go rec.Start(ctx, config.Duration(cfg.Reconciler.Interval, 24*time.Hour))
	}

	if cfg.Database.Backup.Enabled {
		go database.NewBackupService(db, cfg.Database.Backup, &logger).Start(ctx)
	}

	return serve(ctx, cfg, resolver, engine, db, &logger)
}

func loadConfigAndLogger(path string) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()
	return cfg, logger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return nil, err
	}

	if err := db.SyncBarbers(ctx, cfg.Barbers); err != nil {
		logger.Error().Err(err).Msg("Ошибка синхронизации барберов")
	}
	for _, b := range cfg.Barbers {
		rule := &models.ClosureRule{BarberID: b.ID, ClosedWeekdays: b.ClosedWeekdays}
		if err := db.SaveClosureRule(ctx, rule); err != nil {
			logger.Error().Err(err).Str("barber_id", b.ID).Msg("save closure rule")
		}
	}

	shop := &models.ShopClosures{ClosedDates: cfg.Shop.ClosedDates, ClosedDays: cfg.Shop.ClosedDays}
	if err := db.SaveShopClosures(ctx, shop); err != nil {
		logger.Error().Err(err).Msg("save shop closures")
	}
	return db, nil
}

// initLocker returns a Redis-backed locker that falls back to memory, or a
// plain memory locker when Redis is not configured.
func initLocker(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.KeyLocker) {
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-process locks")
		return nil, repository.NewMemoryLocker()
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}
	primary := repository.NewRedisLocker(client, config.Duration(cfg.Waitlist.LockTTL, 10*time.Second))
	return client, repository.NewFailoverLocker(primary, repository.NewMemoryLocker(), logger)
}

// initTransport picks Telegram when a token is configured and the log otherwise.
func initTransport(cfg *config.Config, db *database.DB, logger *zerolog.Logger) (notify.BotClient, domain.Notifier) {
	if cfg.Telegram.BotToken == "" {
		logger.Warn().Msg("telegram.bot_token is empty, notifications go to the log")
		return nil, notify.NewLogNotifier(logger)
	}

	bot, err := notify.NewBotAPI(cfg.Telegram.BotToken, cfg.Telegram.Debug)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка создания BotAPI, notifications go to the log")
		return nil, notify.NewLogNotifier(logger)
	}
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram bot connected")
	return bot, notify.NewTelegramNotifier(bot, db, logger)
}

func subscribeEvents(bus *events.EventBus, logger *zerolog.Logger) {
	eventLogger := logging.Component(logger, "events")
	bus.OnError(func(ev *events.Event, err error) {
		eventLogger.Error().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})
	bus.SubscribeAll(func(ev *events.Event) error {
		eventLogger.Debug().Str("event", ev.Type).RawJSON("payload", ev.Payload).Msg("event")
		return nil
	},
		events.EventWaitlistJoined, events.EventWaitlistOffered, events.EventWaitlistBooked,
		events.EventWaitlistDeclined, events.EventWaitlistExpired, events.EventWaitlistRequeued,
		events.EventWaitlistLeft, events.EventOfferVacated, events.EventBookingCanceled,
	)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// serve blocks until ctx is done, running the HTTP API when it is enabled.
func serve(
	ctx context.Context,
	cfg *config.Config,
	resolver *availability.Resolver,
	engine *waitlist.Engine,
	db *database.DB,
	logger *zerolog.Logger,
) error {
	var httpServer *api.HTTPServer
	if cfg.API.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, resolver, engine, db, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().Bool("http", cfg.API.Enabled).Int("http_port", cfg.API.HTTP.Port).Msg("barberbook started")
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}
