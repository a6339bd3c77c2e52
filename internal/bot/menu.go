package bot

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/broadcast"
	"github.com/wapuda/vidrelay/internal/session"
	"github.com/wapuda/vidrelay/internal/store"
)

const (
	cbGenKey    = "gen_key"
	cbViewUsers = "view_users"
	cbStats     = "stats"
	cbBroadcast = "broadcast"
	cbBuySub    = "buy_sub"
	cbMySub     = "my_sub"
	cbStartEdit = "start_edit"
	cbHelp      = "help"
)

func (s *Server) mainMenu(userID int64) tgbotapi.InlineKeyboardMarkup {
	if s.auth.IsOwner(userID) {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔑 Gen Key", cbGenKey)),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("👥 Users", cbViewUsers),
				tgbotapi.NewInlineKeyboardButtonData("📊 Stats", cbStats),
			),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📢 Broadcast", cbBroadcast)),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🎬 Edit", cbStartEdit)),
		)
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	if ok, _ := s.auth.CheckEntitlement(userID); ok {
		rows = append(rows,
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🎬 Edit Videos", cbStartEdit)),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⏱️ My Sub", cbMySub)),
		)
	} else {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💎 Buy Sub", cbBuySub)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("❓ Help", cbHelp)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (s *Server) welcomeText(userID int64) string {
	if s.auth.IsOwner(userID) {
		return "🎬 <b>Video Editor - Admin</b>\n\n👑 Owner Access\n\n" +
			"🔄 Keep-Alive: <b>Active</b> ✅\n" +
			"☁️ Storage: <b>" + html.EscapeString(s.storageName) + "</b> ✅\n\nChoose option:"
	}
	if ok, label := s.auth.CheckEntitlement(userID); ok {
		return fmt.Sprintf("🎬 <b>Video Editor Bot</b>\n\n✅ Active - %s\n\n<b>Features:</b>\n"+
			"• Change thumbnails\n• Edit captions\n• Bulk process\n\nReady!", label)
	}
	return "🎬 <b>Video Editor</b>\n\n❌ No subscription\n\n✨ Features:\n" +
		"• Custom thumbnails\n• Caption editing\n• Cloud powered\n\n💎 Get access!"
}

const (
	textNeedSub   = "❌ <b>Need subscription!</b>\n\n/start"
	textCancelled = "❌ Cancelled! /start"
	textKeyUsed   = "❌ Key already used!"
	textKeyBad    = "❌ Invalid key!"
	textInternal  = "❌ Something went wrong, please try again."
	textBusy      = "⏳ Your videos are still being processed. Wait for the summary or /cancel."

	textGenKey = "🔑 <b>Generate Key</b>\n\nDuration:\n" +
		"• <code>1d</code> = 1 day\n• <code>7d</code> = 7 days\n" +
		"• <code>30d</code> = 30 days\n• <code>1h</code> = 1 hour\n\nSend duration:"
	textInvalidDuration = "❌ Invalid! Send a duration like <code>7d</code> or <code>12h</code>."
	textAskBroadcast    = "📢 <b>Broadcast</b>\n\nSend message:"

	textStartEdit = "🎬 <b>Video Editor</b>\n\n📹 Send videos\n\nSteps:\n" +
		"1. Send videos\n2. Type: <code>done</code>\n3. Send thumbnail\n4. Done!\n\nSend videos now 📤"
)

func (s *Server) buySubText() string {
	return fmt.Sprintf("💎 <b>Get Subscription</b>\n\nContact: @%s\n\n"+
		"1. Contact support\n2. Get auth key\n3. Send key here\n4. Activate!", html.EscapeString(s.support))
}

func (s *Server) helpText() string {
	return "❓ <b>Help</b>\n\n<b>Features:</b>\n• Real thumbnail change\n• Caption editing\n• Bulk processing\n\n" +
		"<b>How:</b>\nVideos → Storage → Process → New thumbnail!\n\n" +
		"Support: @" + html.EscapeString(s.support)
}

func (s *Server) contactMarkup() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL("📱 Contact", "https://t.me/"+s.support),
	))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (s *Server) usersText() string {
	users := s.db.Users.All()
	var b strings.Builder
	fmt.Fprintf(&b, "👥 <b>Users</b>\n\n📊 Total: %d\n✅ Active: %d\n\n<b>Recent:</b>\n", len(users), s.auth.ActiveCount())

	list := make([]store.User, 0, len(users))
	for _, u := range users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Joined.Equal(list[j].Joined) {
			return list[i].Joined.Before(list[j].Joined)
		}
		return list[i].ID < list[j].ID
	})
	if len(list) > 5 {
		list = list[len(list)-5:]
	}
	for _, u := range list {
		mark := "❌"
		if _, ok := s.auth.Subscription(u.ID); ok {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, html.EscapeString(truncate(u.Name, 20)))
	}
	return b.String()
}

func (s *Server) statsText() string {
	return fmt.Sprintf("📊 <b>Stats</b>\n\n👥 Users: %d\n✅ Active: %d\n🔑 Keys: %d\n🔄 Heartbeat: %d\n☁️ Storage: %s ✅",
		s.db.Users.Len(), s.auth.ActiveCount(), s.db.Keys.Len(), s.heartbeat.Ticks(), html.EscapeString(s.storageName))
}

func (s *Server) mySubText(userID int64) string {
	ok, label := s.auth.CheckEntitlement(userID)
	if sub, found := s.auth.Subscription(userID); ok && found {
		return fmt.Sprintf("✅ <b>Subscription</b>\n\n⏱️ %s\n⏳ Expires: %s\n🔑 Key: <code>%s</code>",
			label, sub.Expiry.Format("2006-01-02"), sub.Key)
	}
	if s.auth.IsOwner(userID) {
		return "👑 Owner"
	}
	return "❌ No sub"
}

func activatedText(sub store.Subscription) string {
	return fmt.Sprintf("🎉 <b>Activated!</b>\n\n✅ Duration: %s\n📅 Expires: %s\n\n/start",
		html.EscapeString(sub.Duration), sub.Expiry.Format("2006-01-02"))
}

func keyIssuedText(token string, k store.Key) string {
	return fmt.Sprintf("🔑 <b>Key Generated!</b>\n\n<code>%s</code>\n\n⏱️ %s", token, html.EscapeString(k.DurationLabel))
}

func broadcastText(sum broadcast.Summary) string {
	return fmt.Sprintf("✅ Done!\n\n✓ Sent: %d\n🚫 Blocked: %d\n✗ Failed: %d", sum.Sent, sum.Blocked, sum.Failed)
}

func noticeText(n session.Notice, s *session.Session) string {
	videos := 0
	if s != nil {
		videos = len(s.Videos)
	}
	switch n {
	case session.NoticeSendVideosFirst:
		return "❌ Send videos first!"
	case session.NoticeNoVideos:
		return "❌ No videos!"
	case session.NoticeSendMoreOrDone:
		return "📹 Send more videos or type <code>done</code>"
	case session.NoticeSendThumbnail:
		return fmt.Sprintf("✅ <b>%d videos ready!</b>\n\n📸 Send thumbnail", videos)
	case session.NoticeThumbSaved:
		return "✅ <b>Thumbnail saved!</b>\n\nReplace caption text?\n• <code>yes</code>\n• <code>no</code>"
	case session.NoticeYesOrNo:
		return "Reply <code>yes</code> or <code>no</code>"
	case session.NoticeAskFind:
		return "🔍 <b>Find text:</b>"
	case session.NoticeAskReplace:
		return fmt.Sprintf("✅ Find: <code>%s</code>\n\n📝 Replace with:", html.EscapeString(s.Find))
	case session.NoticeRendering:
		if s != nil && s.Replace != "" {
			return fmt.Sprintf("✅ Replace: <code>%s</code>\n\n⏳ Processing...", html.EscapeString(s.Replace))
		}
		return "⏳ Processing..."
	case session.NoticeRenderBusy:
		return textBusy
	case session.NoticeFinishStep:
		return "Finish the current step first, or /cancel"
	case session.NoticeAskDuration:
		return "Send a duration like <code>7d</code> or <code>12h</code>"
	}
	return ""
}
