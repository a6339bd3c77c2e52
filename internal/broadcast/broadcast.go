package broadcast

import (
	"context"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/logx"
	"github.com/wapuda/vidrelay/internal/store"
	"github.com/wapuda/vidrelay/internal/tg"
)

// Message is what the owner sent; exactly one of Text, PhotoFileID or
// VideoFileID is set.
type Message struct {
	Text        string
	PhotoFileID string
	VideoFileID string
	Caption     string
}

func (m Message) Empty() bool {
	return m.Text == "" && m.PhotoFileID == "" && m.VideoFileID == ""
}

type Summary struct {
	Sent    int
	Blocked int
	Failed  int
}

type Broadcaster struct {
	Client tg.Client
	Users  *store.Table[store.User]
}

func (m Message) to(chatID int64) tgbotapi.Chattable {
	switch {
	case m.PhotoFileID != "":
		p := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(m.PhotoFileID))
		p.Caption = m.Caption
		return p
	case m.VideoFileID != "":
		v := tgbotapi.NewVideo(chatID, tgbotapi.FileID(m.VideoFileID))
		v.Caption = m.Caption
		return v
	default:
		return tgbotapi.NewMessage(chatID, "📢 "+m.Text)
	}
}

// Send delivers m once to every active user. Users that blocked the bot are
// marked blocked and skipped from then on.
func (b *Broadcaster) Send(ctx context.Context, m Message) Summary {
	l := logx.FromCtx(ctx)

	users := make([]store.User, 0, b.Users.Len())
	for _, u := range b.Users.All() {
		if u.Status == store.StatusActive {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	var sum Summary
	var blocked []int64
	for _, u := range users {
		_, err := b.Client.Send(m.to(u.ID))
		switch {
		case err == nil:
			sum.Sent++
		case tg.IsPermanent(err):
			sum.Blocked++
			blocked = append(blocked, u.ID)
		default:
			sum.Failed++
			l.Warn().Err(err).Int64("to", u.ID).Msg("broadcast send failed")
		}
	}

	if len(blocked) > 0 {
		err := b.Users.Mutate(func(rows map[string]store.User) {
			for _, id := range blocked {
				if u, ok := rows[store.IDKey(id)]; ok {
					u.Status = store.StatusBlocked
					rows[store.IDKey(id)] = u
				}
			}
		})
		if err != nil {
			l.Error().Err(err).Msg("persist blocked users")
		}
	}

	l.Info().Int("sent", sum.Sent).Int("blocked", sum.Blocked).Int("failed", sum.Failed).Msg("broadcast finished")
	return sum
}
