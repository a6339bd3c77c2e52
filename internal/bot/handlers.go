package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/broadcast"
	"github.com/wapuda/vidrelay/internal/jobs"
	"github.com/wapuda/vidrelay/internal/logx"
	"github.com/wapuda/vidrelay/internal/session"
	"github.com/wapuda/vidrelay/internal/store"
	"github.com/wapuda/vidrelay/internal/subscription"
	"github.com/wapuda/vidrelay/internal/tg"
)

func (s *Server) onStart(ctx context.Context, m *tgbotapi.Message) {
	uid := m.From.ID
	created, err := s.db.RegisterUser(store.User{
		ID:       uid,
		Name:     strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
		Username: m.From.UserName,
		Status:   store.StatusActive,
		Joined:   time.Now(),
	})
	l := logx.FromCtx(ctx)
	if err != nil {
		l.Error().Err(err).Msg("register user")
	} else if created {
		l.Info().Msg("new user")
	}

	msg := tg.HTML(m.Chat.ID, s.welcomeText(uid))
	msg.ReplyMarkup = s.mainMenu(uid)
	tg.Reply(ctx, s.client, msg)
}

func (s *Server) onCancel(ctx context.Context, m *tgbotapi.Message) {
	uid := m.From.ID
	cur, err := s.sessions.Get(ctx, uid)
	if err != nil {
		s.internalError(ctx, m.Chat.ID, err, "load session")
		return
	}
	if cur != nil {
		n := s.dropObjects(ctx, cur)
		if err := s.sessions.Delete(ctx, uid); err != nil {
			s.internalError(ctx, m.Chat.ID, err, "delete session")
			return
		}
		l := logx.FromCtx(logx.WithSession(ctx, cur.ID, uid))
		l.Info().Int("objects", n).Str("step", string(cur.Step)).Msg("session cancelled")
	}
	s.reply(ctx, m.Chat.ID, textCancelled)
}

// dropObjects deletes every staged object of an editing session.
func (s *Server) dropObjects(ctx context.Context, cur *session.Session) int {
	if !cur.Editing() {
		return 0
	}
	n := 0
	for _, v := range cur.Videos {
		if s.scratch.Delete(ctx, v.ObjectID) {
			n++
		}
	}
	return n
}

// replaceSession installs next unless a render is still running. A replaced
// editing session takes its staged objects with it.
func (s *Server) replaceSession(ctx context.Context, next *session.Session) (bool, error) {
	cur, err := s.sessions.Get(ctx, next.UserID)
	if err != nil {
		return false, err
	}
	if cur != nil && cur.Step == session.StepRendering {
		return false, nil
	}
	if cur != nil {
		s.dropObjects(ctx, cur)
	}
	return true, s.sessions.Put(ctx, next)
}

func (s *Server) answer(ctx context.Context, q *tgbotapi.CallbackQuery, alert string) {
	cfg := tgbotapi.NewCallback(q.ID, "")
	if alert != "" {
		cfg = tgbotapi.NewCallbackWithAlert(q.ID, alert)
	}
	if _, err := s.client.Request(cfg); err != nil {
		l := logx.FromCtx(ctx)
		l.Debug().Err(err).Msg("answer callback")
	}
}

// show replaces the menu message the button belongs to.
func (s *Server) show(ctx context.Context, q *tgbotapi.CallbackQuery, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if q.Message == nil {
		msg := tg.HTML(chatID, text)
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		tg.Reply(ctx, s.client, msg)
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, q.Message.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = markup
	tg.Reply(ctx, s.client, edit)
}

func (s *Server) onCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	uid := q.From.ID
	chatID := uid
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	owner := s.auth.IsOwner(uid)

	switch q.Data {
	case cbGenKey, cbBroadcast:
		if !owner {
			s.answer(ctx, q, "")
			return
		}
		step, text := session.StepKeyDuration, textGenKey
		if q.Data == cbBroadcast {
			step, text = session.StepBroadcast, textAskBroadcast
		}
		s.startFlow(ctx, q, chatID, session.New(uid, chatID, step), text)

	case cbViewUsers, cbStats:
		s.answer(ctx, q, "")
		if !owner {
			return
		}
		if q.Data == cbStats {
			s.show(ctx, q, chatID, s.statsText(), nil)
		} else {
			s.show(ctx, q, chatID, s.usersText(), nil)
		}

	case cbBuySub:
		s.answer(ctx, q, "")
		kb := s.contactMarkup()
		s.show(ctx, q, chatID, s.buySubText(), &kb)

	case cbMySub:
		s.answer(ctx, q, "")
		s.show(ctx, q, chatID, s.mySubText(uid), nil)

	case cbStartEdit:
		if ok, _ := s.auth.CheckEntitlement(uid); !ok {
			s.answer(ctx, q, "❌ Need subscription!")
			return
		}
		s.startFlow(ctx, q, chatID, session.New(uid, chatID, session.StepCollecting), textStartEdit)

	case cbHelp:
		s.answer(ctx, q, "")
		s.show(ctx, q, chatID, s.helpText(), nil)

	default:
		s.answer(ctx, q, "")
	}
}

func (s *Server) startFlow(ctx context.Context, q *tgbotapi.CallbackQuery, chatID int64, next *session.Session, text string) {
	s.answer(ctx, q, "")
	ok, err := s.replaceSession(ctx, next)
	if err != nil {
		s.internalError(ctx, chatID, err, "start session")
		return
	}
	if !ok {
		s.reply(ctx, chatID, textBusy)
		return
	}
	s.show(ctx, q, chatID, text, nil)
}

func (s *Server) onVideo(ctx context.Context, m *tgbotapi.Message) {
	if ok, _ := s.auth.CheckEntitlement(m.From.ID); !ok {
		s.reply(ctx, m.Chat.ID, textNeedSub)
		return
	}
	s.advance(ctx, m, session.Event{Kind: session.EventVideo})
}

func (s *Server) onPhoto(ctx context.Context, m *tgbotapi.Message) {
	if ok, _ := s.auth.CheckEntitlement(m.From.ID); !ok {
		s.reply(ctx, m.Chat.ID, textNeedSub)
		return
	}
	// the last size is the largest
	photo := m.Photo[len(m.Photo)-1]
	s.advance(ctx, m, session.Event{Kind: session.EventImage, ImageFileID: photo.FileID})
}

func (s *Server) onText(ctx context.Context, m *tgbotapi.Message) {
	uid := m.From.ID
	text := strings.TrimSpace(m.Text)

	if subscription.LooksLikeKey(text) {
		sub, err := s.auth.RedeemKey(ctx, uid, text)
		switch {
		case err == nil:
			s.reply(ctx, m.Chat.ID, activatedText(sub))
			return
		case errors.Is(err, subscription.ErrAlreadyUsed):
			s.reply(ctx, m.Chat.ID, textKeyUsed)
			return
		case errors.Is(err, subscription.ErrInvalidDuration):
			s.reply(ctx, m.Chat.ID, textKeyBad)
			return
		case errors.Is(err, subscription.ErrNotFound):
			// a find/replace string or broadcast may look like a key
			cur, gerr := s.sessions.Get(ctx, uid)
			if gerr != nil {
				s.internalError(ctx, m.Chat.ID, gerr, "load session")
				return
			}
			if !cur.AwaitsText() {
				s.reply(ctx, m.Chat.ID, textKeyBad)
				return
			}
		default:
			s.internalError(ctx, m.Chat.ID, err, "redeem key")
			return
		}
	}

	// owner flows are owner only and the owner is always entitled
	if ok, _ := s.auth.CheckEntitlement(uid); !ok {
		return
	}
	s.advance(ctx, m, session.Event{Kind: session.EventText, Text: text})
}

// advance runs one event through the state machine and carries out its effect.
func (s *Server) advance(ctx context.Context, m *tgbotapi.Message, ev session.Event) {
	uid, chatID := m.From.ID, m.Chat.ID
	ev.UserID, ev.ChatID = uid, chatID

	cur, err := s.sessions.Get(ctx, uid)
	if err != nil {
		s.internalError(ctx, chatID, err, "load session")
		return
	}
	if cur != nil {
		ctx = logx.WithSession(ctx, cur.ID, uid)
	}

	out := session.Transition(cur, ev)
	switch out.Effect {
	case session.EffectStageVideo:
		s.stage(ctx, m, out.Session)
		return
	case session.EffectRender:
		s.startRender(ctx, chatID, cur, out)
		return
	case session.EffectIssueKey:
		s.issueKey(ctx, chatID, uid, ev.Text)
		return
	case session.EffectBroadcast:
		s.broadcast(ctx, m)
		return
	}

	if err := s.commit(ctx, uid, cur, out.Session); err != nil {
		s.internalError(ctx, chatID, err, "save session")
		return
	}
	if text := noticeText(out.Notice, out.Session); text != "" {
		s.reply(ctx, chatID, text)
	}
}

func (s *Server) commit(ctx context.Context, uid int64, cur, next *session.Session) error {
	switch {
	case next != nil:
		return s.sessions.Put(ctx, next)
	case cur != nil:
		return s.sessions.Delete(ctx, uid)
	}
	return nil
}

// stage copies one uploaded video from Telegram into the scratch store.
func (s *Server) stage(ctx context.Context, m *tgbotapi.Message, next *session.Session) {
	uid, chatID := m.From.ID, m.Chat.ID
	ctx = logx.WithSession(ctx, next.ID, uid)
	l := logx.FromCtx(ctx)
	status := tg.NewStatus(s.client, chatID)
	status.Set(ctx, "⏳ Uploading to storage...")

	// the session exists from the first video on, even if staging fails
	keep := func() {
		if err := s.sessions.Put(ctx, next); err != nil {
			l.Error().Err(err).Msg("save session")
		}
	}

	v := m.Video
	data, err := s.files.Fetch(ctx, v.FileID)
	if err != nil {
		l.Error().Err(err).Msg("telegram download failed")
		status.Set(ctx, "❌ Download failed!")
		keep()
		return
	}

	name := fmt.Sprintf("v_%d_%d_%d.mp4", uid, len(next.Videos), time.Now().Unix())
	id, err := s.scratch.Put(ctx, name, data)
	if err != nil {
		l.Error().Err(err).Str("name", name).Msg("scratch upload failed")
		status.Set(ctx, "❌ Upload failed!")
		keep()
		return
	}

	size := int64(v.FileSize)
	if size == 0 {
		size = int64(len(data))
	}
	next = session.Stage(next, jobs.Video{
		ObjectID: id,
		Caption:  m.Caption,
		Duration: v.Duration,
		Width:    v.Width,
		Height:   v.Height,
		FileName: name,
		Size:     size,
	})
	if err := s.sessions.Put(ctx, next); err != nil {
		s.scratch.Delete(ctx, id)
		l.Error().Err(err).Msg("save session")
		status.Set(ctx, textInternal)
		return
	}
	l.Info().Str("object_id", id).Int("count", len(next.Videos)).Msg("video staged")
	status.Set(ctx, fmt.Sprintf("✅ <b>Video %d stored!</b>\n\n📹 Send more or: <code>done</code>", len(next.Videos)))
}

func (s *Server) startRender(ctx context.Context, chatID int64, cur *session.Session, out session.Outcome) {
	next := out.Session
	if err := s.sessions.Put(ctx, next); err != nil {
		s.internalError(ctx, chatID, err, "save session")
		return
	}
	s.reply(ctx, chatID, noticeText(out.Notice, next))

	if err := s.dispatcher.Dispatch(ctx, next.Payload()); err != nil {
		l := logx.FromCtx(ctx)
		l.Error().Err(err).Msg("dispatch render")
		// back to the step before rendering so the user can retry
		if perr := s.sessions.Put(ctx, cur); perr != nil {
			l.Error().Err(perr).Msg("restore session")
		}
		s.reply(ctx, chatID, "❌ Could not start processing. Send your last answer again.")
	}
}

func (s *Server) issueKey(ctx context.Context, chatID, uid int64, spec string) {
	token, k, err := s.auth.IssueKey(ctx, spec, uid)
	if errors.Is(err, subscription.ErrInvalidDuration) {
		s.reply(ctx, chatID, textInvalidDuration)
		return
	}
	if err != nil {
		s.internalError(ctx, chatID, err, "issue key")
		return
	}
	if err := s.sessions.Delete(ctx, uid); err != nil {
		l := logx.FromCtx(ctx)
		l.Warn().Err(err).Msg("delete session")
	}
	s.reply(ctx, chatID, keyIssuedText(token, k))
}

func (s *Server) broadcast(ctx context.Context, m *tgbotapi.Message) {
	msg := broadcast.Message{Caption: m.Caption}
	switch {
	case m.Video != nil:
		msg.VideoFileID = m.Video.FileID
	case len(m.Photo) > 0:
		msg.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
	default:
		msg.Text = m.Text
	}
	if err := s.sessions.Delete(ctx, m.From.ID); err != nil {
		s.internalError(ctx, m.Chat.ID, err, "delete session")
		return
	}

	status := tg.NewStatus(s.client, m.Chat.ID)
	status.Set(ctx, "📡 <b>Broadcasting...</b>")
	sum := s.broadcaster.Send(ctx, msg)
	status.Set(ctx, broadcastText(sum))
}

func (s *Server) internalError(ctx context.Context, chatID int64, err error, op string) {
	l := logx.FromCtx(ctx)
	l.Error().Err(err).Str("op", op).Msg("handler failed")
	s.reply(ctx, chatID, textInternal)
}
