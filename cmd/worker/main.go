package main

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/vidrelay/internal/config"
	"github.com/wapuda/vidrelay/internal/jobs"
	"github.com/wapuda/vidrelay/internal/logx"
	"github.com/wapuda/vidrelay/internal/render"
	"github.com/wapuda/vidrelay/internal/scratch"
	"github.com/wapuda/vidrelay/internal/session"
	"github.com/wapuda/vidrelay/internal/tg"
)

func main() {
	_ = godotenv.Load()
	logx.Setup(logx.FromEnv("worker"))

	c, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if c.SessionStore != config.SessionsRedis {
		log.Fatal().Msg("worker needs SESSION_STORE=redis to share sessions with the bot")
	}

	ctx := context.Background()
	objects, err := scratch.Open(ctx, c)
	if err != nil {
		log.Fatal().Err(err).Msg("scratch store not connected")
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
	defer rdb.Close()
	sessions := session.NewRedisStore(rdb, c.SessionTTL)

	api, err := tgbotapi.NewBotAPI(c.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth")
	}
	renderer := &render.Renderer{Client: api, Files: tg.NewFetcher(api), Scratch: objects, Limit: c.UploadLimitBytes}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: c.RedisAddr}, asynq.Config{
		Concurrency: c.WorkerConcurrency,
		Logger:      logx.NewQueueLogger(map[string]string{"component": "asynq"}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskRenderSession, func(ctx context.Context, t *asynq.Task) error {
		p, err := jobs.ParseRenderTask(t)
		if err != nil {
			// a payload that cannot be decoded will never succeed
			return asynq.SkipRetry
		}
		ctx = logx.WithSession(ctx, p.SessionID, p.UserID)
		renderer.Render(ctx, p)
		// per-video failures were already reported to the user; the task itself is done
		if err := session.Finish(ctx, sessions, p.UserID, p.SessionID); err != nil {
			l := logx.FromCtx(ctx)
			l.Error().Err(err).Msg("finish session")
		}
		return nil
	})

	log.Info().Int("concurrency", c.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
