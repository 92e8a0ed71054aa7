// Команда teleosint — CLI-вход движка OSINT-сбора: разбирает флаги,
// загружает конфигурацию, поднимает MTProto-клиент gotd, связывает все
// внутренние компоненты и передаёт управление тому из режимов
// --discover/--backfill/--run, который запрошен.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"teleosint/internal/backfill"
	"teleosint/internal/config"
	"teleosint/internal/crawl"
	"teleosint/internal/discovery"
	"teleosint/internal/infra/logger"
	"teleosint/internal/ingest"
	"teleosint/internal/live"
	"teleosint/internal/resolver"
	"teleosint/internal/scoring"
	"teleosint/internal/store"
	"teleosint/internal/supervisor"
	telegramauth "teleosint/internal/telegram/auth"
	"teleosint/internal/translate"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix(time.Now().Format("2006-01-02 15:04:05 "))

	configPath := flag.String("config", "", "path to the YAML config file (required)")
	envPath := flag.String("env", ".env", "path to an optional .env file (DEEPL_API_KEY/DEEPL_API_URL)")
	discoverFlag := flag.Bool("discover", false, "run discovery + crawl once and print found channels")
	backfillFlag := flag.Bool("backfill", false, "backfill seed channels once")
	runFlag := flag.Bool("run", false, "start the live stream and maintenance supervisor")
	newOnly := flag.Bool("new-only", false, "restrict --backfill to messages newer than the stored watermark")
	debug := flag.Bool("debug", false, "enable debug logging and per-chat backfill summaries")
	flag.Parse()

	if *configPath == "" {
		log.Fatal("teleosint: --config is required")
	}

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.Fatalf("teleosint: load config: %v", err)
	}

	level := "info"
	if *debug {
		level = "debug"
	}
	logger.Init(level)
	if *debug {
		logger.EnableFileRotation(logger.FileRotation{
			Path:       "./logs/teleosint.log",
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		})
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("teleosint: open store: %v", err)
	}
	defer st.Close()

	scorer := scoring.New(cfg.Keywords)
	translator := translate.New(cfg.Translation)
	pipeline := ingest.NewPipeline(scorer, translator, st, nil, cfg.IsBlocked, cfg.Negatives, cfg.ScoreThreshold)

	dispatcher := tg.NewUpdateDispatcher()
	waiter := floodwait.NewWaiter()
	limiter := ratelimit.New(rate.Every(time.Second/4), 4)
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.Session},
		UpdateHandler:  dispatcher,
		Middlewares:    []telegram.Middleware{waiter, limiter},
	})

	runErr := waiter.Run(ctx, func(ctx context.Context) error {
		return client.Run(ctx, func(ctx context.Context) error {
			return runEngine(ctx, cfg, client, &dispatcher, pipeline, scorer, *discoverFlag, *backfillFlag, *runFlag, *newOnly)
		})
	})

	if runErr != nil && ctx.Err() == nil {
		log.Fatalf("teleosint: %v", runErr)
	}
}

// runEngine авторизует сессию, связывает граф компонентов и передаёт
// управление режиму, запрошенному флагами CLI. Выполняется внутри колбэка
// подключённой сессии клиента gotd.
func runEngine(ctx context.Context, cfg *config.Config, client *telegram.Client, dispatcher *tg.UpdateDispatcher, pipeline *ingest.Pipeline, scorer *scoring.Scorer, discoverMode, backfillMode, runMode, newOnly bool) error {
	if err := ensureAuthorized(ctx, client); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	api := client.API()

	dialogCache := resolver.NewDialogCache()
	cooldown := resolver.NewCooldownMap()
	peerCache, err := resolver.OpenPeerCache(cfg.SQLitePath + ".peers.db")
	if err != nil {
		logger.Warnf("peer cache disabled: %v", err)
		peerCache = nil
	}
	if peerCache != nil {
		defer peerCache.Close()
		_ = peerCache.LoadInto(dialogCache)
	}

	res := resolver.New(api, dialogCache, peerCache, cfg.Discovery.Crawl)

	if err := resolver.BootstrapDialogCache(ctx, api, dialogCache, peerCache); err != nil {
		logger.Debugf("dialog cache bootstrap: %v", err)
	}

	disc := discovery.New(api, res, cfg.Discovery, cfg)
	cr := crawl.New(api, res, cooldown, cfg, cfg.Discovery.Crawl, scorer, nil, cfg.Negatives, cfg.ScoreThreshold, nil)
	bf := backfill.New(api, res, cfg, pipeline, cfg.Collect.BackfillLimit)
	liveStream := live.New(dispatcher, pipeline)

	sup := supervisor.New(cfg, api, liveStream, disc, cr, bf, res, dialogCache, cfg.SeedChannels)

	switch {
	case discoverMode:
		found := disc.Run(ctx)
		crawled := cr.Run(ctx, append(append([]string(nil), cfg.SeedChannels...), found...))
		for _, u := range append(found, crawled...) {
			fmt.Println(u)
		}
		return nil

	case backfillMode:
		mode := backfill.ModeAll
		if newOnly {
			mode = backfill.ModeNewOnly
		}
		bf.Run(ctx, cfg.SeedChannels, mode)
		return nil

	case runMode:
		for _, ref := range cfg.SeedChannels {
			res.EnsureJoin(ctx, ref)
		}
		sup.RunMaintenanceLoop(cfg.Maintenance.IntervalSec)
		sup.StartLive(nil)
		<-ctx.Done()
		sup.Shutdown()
		return nil

	default:
		return fmt.Errorf("one of --discover, --backfill or --run must be given")
	}
}

// ensureAuthorized интерактивно логинится через терминал, если
// восстановленная сессия ещё не авторизована.
func ensureAuthorized(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return err
	}
	if status.Authorized {
		return nil
	}

	fmt.Print("Enter phone number: ")
	var phone string
	if _, err := fmt.Scanln(&phone); err != nil {
		return err
	}

	authenticator := &telegramauth.TerminalAuthenticator{PhoneNumber: phone}
	flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})
	return client.Auth().IfNecessary(ctx, flow)
}
