package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/wapuda/vidrelay/internal/bot"
	"github.com/wapuda/vidrelay/internal/config"
	"github.com/wapuda/vidrelay/internal/health"
	"github.com/wapuda/vidrelay/internal/jobs"
	"github.com/wapuda/vidrelay/internal/logx"
	"github.com/wapuda/vidrelay/internal/render"
	"github.com/wapuda/vidrelay/internal/scratch"
	"github.com/wapuda/vidrelay/internal/session"
	"github.com/wapuda/vidrelay/internal/store"
	"github.com/wapuda/vidrelay/internal/subscription"
	"github.com/wapuda/vidrelay/internal/tg"
)

func main() {
	_ = godotenv.Load()
	logx.Setup(logx.FromEnv("bot"))

	c, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	log.Info().Str("scratch", c.ScratchBackend).Str("sessions", c.SessionStore).Str("queue", c.RenderQueue).Msg("bot starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(c.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", c.DataDir).Msg("open data store")
	}

	objects, err := scratch.Open(ctx, c)
	if err != nil {
		log.Fatal().Err(err).Msg("scratch store not connected")
	}

	var sessions session.Store = session.NewMemory(c.SessionTTL)
	if c.SessionStore == config.SessionsRedis {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", c.RedisAddr).Msg("redis")
		}
		sessions = session.NewRedisStore(rdb, c.SessionTTL)
	}

	api, err := tgbotapi.NewBotAPI(c.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth")
	}
	api.Debug = false
	log.Info().Str("username", api.Self.UserName).Msg("bot authorized")

	files := tg.NewFetcher(api)
	locks := session.NewLocks()
	heartbeat := health.NewHeartbeat()

	var (
		dispatcher jobs.Dispatcher
		inline     *bot.InlineDispatcher
	)
	switch c.RenderQueue {
	case config.QueueAsynq:
		q := jobs.NewQueueDispatcher(c.RedisAddr)
		defer q.Close()
		dispatcher = q
	default:
		inline = &bot.InlineDispatcher{
			Renderer: &render.Renderer{Client: api, Files: files, Scratch: objects, Limit: c.UploadLimitBytes},
			Sessions: sessions,
			Locks:    locks,
		}
		dispatcher = inline
	}

	srv := bot.New(bot.Options{
		Client:          api,
		Files:           files,
		DB:              db,
		Auth:            subscription.NewAuthority(db, c.OwnerID),
		Sessions:        sessions,
		Locks:           locks,
		Scratch:         objects,
		Dispatcher:      dispatcher,
		Heartbeat:       heartbeat,
		SupportUsername: c.SupportUsername,
		StorageName:     c.ScratchBackend,
	})

	if err := tg.DropPendingUpdates(api); err != nil {
		log.Warn().Err(err).Msg("stale updates will be replayed")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return heartbeat.Run(gctx) })
	g.Go(func() error {
		return health.Serve(gctx, ":"+strconv.Itoa(c.Port), health.Handler(heartbeat, health.Probe{
			Name:           "Video Editor Bot",
			StoreConnected: func() bool { return objects != nil },
			Users:          db.Users.Len,
		}))
	})
	g.Go(func() error {
		<-gctx.Done()
		api.StopReceivingUpdates()
		return nil
	})
	g.Go(func() error { return srv.Serve(gctx, updates) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("bot stopped with error")
	}
	if inline != nil {
		// renders already sending videos are allowed to finish
		inline.Wait()
	}
	log.Info().Msg("bot stopped")
}
