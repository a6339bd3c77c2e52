// Package bot routes Telegram updates to the subscription, session, render
// and broadcast components and renders their results as chat messages.
package bot

import (
	"context"
	"runtime/debug"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/broadcast"
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

type Options struct {
	Client     tg.Client
	Files      render.Fetcher
	DB         *store.DB
	Auth       *subscription.Authority
	Sessions   session.Store
	Locks      *session.Locks
	Scratch    scratch.Store
	Dispatcher jobs.Dispatcher
	Heartbeat  *health.Heartbeat

	SupportUsername string
	// StorageName is shown to the owner, e.g. "drive".
	StorageName string
}

type Server struct {
	client      tg.Client
	files       render.Fetcher
	db          *store.DB
	auth        *subscription.Authority
	sessions    session.Store
	locks       *session.Locks
	scratch     scratch.Store
	dispatcher  jobs.Dispatcher
	broadcaster *broadcast.Broadcaster
	heartbeat   *health.Heartbeat
	support     string
	storageName string

	wg sync.WaitGroup
}

func New(o Options) *Server {
	if o.Locks == nil {
		o.Locks = session.NewLocks()
	}
	if o.Heartbeat == nil {
		o.Heartbeat = health.NewHeartbeat()
	}
	return &Server{
		client:      o.Client,
		files:       o.Files,
		db:          o.DB,
		auth:        o.Auth,
		sessions:    o.Sessions,
		locks:       o.Locks,
		scratch:     o.Scratch,
		dispatcher:  o.Dispatcher,
		broadcaster: &broadcast.Broadcaster{Client: o.Client, Users: o.DB.Users},
		heartbeat:   o.Heartbeat,
		support:     o.SupportUsername,
		storageName: o.StorageName,
	}
}

// Serve handles every update in its own goroutine until ctx is done or the
// channel closes, then waits for in-flight handlers.
func (s *Server) Serve(ctx context.Context, updates <-chan tgbotapi.Update) error {
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Handle(ctx, upd)
			}()
		}
	}
}

func sender(upd tgbotapi.Update) int64 {
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		return upd.CallbackQuery.From.ID
	case upd.Message != nil && upd.Message.From != nil:
		return upd.Message.From.ID
	}
	return 0
}

// Handle processes one update. All handling for a user is serialized.
func (s *Server) Handle(ctx context.Context, upd tgbotapi.Update) {
	uid := sender(upd)
	if uid == 0 {
		return
	}
	unlock := s.locks.Lock(uid)
	defer unlock()

	ctx = logx.WithSession(ctx, "", uid)
	l := logx.FromCtx(ctx)
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("update handler panicked")
		}
	}()

	if q := upd.CallbackQuery; q != nil {
		s.onCallback(ctx, q)
		return
	}
	m := upd.Message
	if m == nil || m.Chat == nil {
		return
	}
	switch {
	case m.IsCommand():
		switch m.Command() {
		case "start":
			s.onStart(ctx, m)
		case "cancel":
			s.onCancel(ctx, m)
		default:
			s.reply(ctx, m.Chat.ID, "Unknown command. /start")
		}
	case m.Video != nil:
		s.onVideo(ctx, m)
	case len(m.Photo) > 0:
		s.onPhoto(ctx, m)
	case m.Text != "":
		s.onText(ctx, m)
	default:
		l.Debug().Msg("ignoring unsupported message")
	}
}

func (s *Server) reply(ctx context.Context, chatID int64, text string) {
	tg.Reply(ctx, s.client, tg.HTML(chatID, text))
}
