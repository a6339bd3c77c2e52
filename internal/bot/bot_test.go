package bot

import (
	"context"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/render"
	"github.com/wapuda/vidrelay/internal/scratch"
	"github.com/wapuda/vidrelay/internal/session"
	"github.com/wapuda/vidrelay/internal/store"
	"github.com/wapuda/vidrelay/internal/subscription"
	"github.com/wapuda/vidrelay/internal/tg"
	"github.com/wapuda/vidrelay/internal/tg/tgtest"
)

const ownerID = 1

type harness struct {
	t        *testing.T
	ctx      context.Context
	client   *tgtest.Client
	scratch  *scratch.Memory
	sessions *session.Memory
	db       *store.DB
	auth     *subscription.Authority
	disp     *InlineDispatcher
	srv      *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	c := tgtest.NewClient(t)
	files := tg.NewFetcher(c)
	mem := scratch.NewMemory()
	sessions := session.NewMemory(0)
	locks := session.NewLocks()
	auth := subscription.NewAuthority(db, ownerID)
	disp := &InlineDispatcher{
		Renderer: &render.Renderer{Client: c, Files: files, Scratch: mem, Limit: 1 << 20},
		Sessions: sessions,
		Locks:    locks,
	}
	srv := New(Options{
		Client:          c,
		Files:           files,
		DB:              db,
		Auth:            auth,
		Sessions:        sessions,
		Locks:           locks,
		Scratch:         mem,
		Dispatcher:      disp,
		SupportUsername: "support_team",
		StorageName:     "memory",
	})
	return &harness{t: t, ctx: context.Background(), client: c, scratch: mem, sessions: sessions, db: db, auth: auth, disp: disp, srv: srv}
}

func message(uid int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: uid, FirstName: "User", LastName: "Name"},
		Chat:      &tgbotapi.Chat{ID: uid},
	}
}

func (h *harness) text(uid int64, text string) {
	m := message(uid)
	m.Text = text
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	h.srv.Handle(h.ctx, tgbotapi.Update{Message: m})
}

func (h *harness) video(uid int64, fileID, caption, body string) {
	h.client.AddFile(fileID, []byte(body))
	m := message(uid)
	m.Caption = caption
	m.Video = &tgbotapi.Video{FileID: fileID, Duration: 5, Width: 640, Height: 360, FileSize: len(body)}
	h.srv.Handle(h.ctx, tgbotapi.Update{Message: m})
}

func (h *harness) photo(uid int64, fileID string) {
	h.client.AddFile(fileID, []byte("jpeg:"+fileID))
	m := message(uid)
	m.Photo = []tgbotapi.PhotoSize{{FileID: "small-" + fileID}, {FileID: fileID}}
	h.srv.Handle(h.ctx, tgbotapi.Update{Message: m})
}

func (h *harness) callback(uid int64, data string) {
	h.srv.Handle(h.ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-" + data,
		From:    &tgbotapi.User{ID: uid},
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: uid}},
		Data:    data,
	}})
}

func (h *harness) subscribe(uid int64) {
	h.t.Helper()
	token, _, err := h.auth.IssueKey(h.ctx, "7d", ownerID)
	if err != nil {
		h.t.Fatalf("issue key: %v", err)
	}
	h.text(uid, token)
	if !strings.Contains(h.client.LastText(uid), "Activated") {
		h.t.Fatalf("redeem failed: %q", h.client.LastText(uid))
	}
}

func (h *harness) session(uid int64) *session.Session {
	h.t.Helper()
	s, err := h.sessions.Get(h.ctx, uid)
	if err != nil {
		h.t.Fatalf("get session: %v", err)
	}
	return s
}

func (h *harness) expectLast(uid int64, want string) {
	h.t.Helper()
	if got := h.client.LastText(uid); !strings.Contains(got, want) {
		h.t.Fatalf("expected %q in last message, got %q", want, got)
	}
}

func TestEndToEndTwoVideos(t *testing.T) {
	h := newHarness(t)
	const uid = 42
	h.subscribe(uid)

	h.callback(uid, cbStartEdit)
	if s := h.session(uid); s == nil || s.Step != session.StepCollecting {
		t.Fatalf("start_edit should open a collecting session, got %+v", s)
	}

	h.video(uid, "vid-a", "Hello World", "aaaa")
	h.expectLast(uid, "Video 1 stored")
	h.video(uid, "vid-b", "Bye World", "bbbbbb")
	h.expectLast(uid, "Video 2 stored")
	if h.scratch.Len() != 2 {
		t.Fatalf("expected 2 staged objects, got %d", h.scratch.Len())
	}

	h.text(uid, "done")
	h.expectLast(uid, "2 videos ready")
	h.photo(uid, "thumb")
	h.expectLast(uid, "Thumbnail saved")
	h.text(uid, "no")
	h.disp.Wait()

	ups := h.client.Uploads(uid, "sendVideo")
	if len(ups) != 2 {
		t.Fatalf("expected 2 delivered videos, got %d", len(ups))
	}
	if ups[0].Params["caption"] != "Hello World" || ups[1].Params["caption"] != "Bye World" {
		t.Fatalf("captions changed or out of order: %q %q", ups[0].Params["caption"], ups[1].Params["caption"])
	}
	for i, u := range ups {
		thumb, ok := u.File("thumb")
		if !ok || string(thumb.Bytes) != "jpeg:thumb" {
			t.Fatalf("video %d has no custom thumbnail: %+v", i, u.Files)
		}
		if u.Params["width"] != "640" || u.Params["height"] != "360" {
			t.Fatalf("video %d lost its dimensions: %v", i, u.Params)
		}
	}
	if f, _ := ups[1].File("video"); string(f.Bytes) != "bbbbbb" || !strings.HasPrefix(f.Name, "v_42_1_") {
		t.Fatalf("unexpected second upload %q %q", f.Name, f.Bytes)
	}
	if h.scratch.Len() != 0 {
		t.Fatalf("delivered objects should be deleted, %d left", h.scratch.Len())
	}
	if s := h.session(uid); s != nil {
		t.Fatalf("session should be removed after render, got %+v", s)
	}
	h.expectLast(uid, "Done: 2/2")
}

func TestFindReplaceFlow(t *testing.T) {
	h := newHarness(t)
	const uid = 42
	h.subscribe(uid)

	h.video(uid, "vid-a", "Hello World", "a")
	h.text(uid, "done")
	h.photo(uid, "thumb")
	h.text(uid, "yes")
	h.expectLast(uid, "Find text")
	h.text(uid, "World")
	h.expectLast(uid, "Replace with")
	h.text(uid, "There")
	h.disp.Wait()

	ups := h.client.Uploads(uid, "sendVideo")
	if len(ups) != 1 || ups[0].Params["caption"] != "Hello There" {
		t.Fatalf("expected rewritten caption, got %+v", ups)
	}
}

func TestCancelDeletesStagedObjects(t *testing.T) {
	h := newHarness(t)
	const uid = 42
	h.subscribe(uid)

	h.video(uid, "v1", "", "1")
	h.video(uid, "v2", "", "2")
	h.video(uid, "v3", "", "3")
	if h.scratch.Len() != 3 {
		t.Fatalf("expected 3 staged objects, got %d", h.scratch.Len())
	}

	h.text(uid, "/cancel")
	if h.scratch.Len() != 0 || len(h.scratch.Deleted()) != 3 {
		t.Fatalf("cancel should delete all objects: left %d, deleted %v", h.scratch.Len(), h.scratch.Deleted())
	}
	if s := h.session(uid); s != nil {
		t.Fatalf("session should be gone, got %+v", s)
	}
	h.expectLast(uid, "Cancelled")
}

func TestStartEditReplacesSessionAndItsObjects(t *testing.T) {
	h := newHarness(t)
	const uid = 42
	h.subscribe(uid)

	h.video(uid, "v1", "", "1")
	old := h.session(uid)
	h.callback(uid, cbStartEdit)
	s := h.session(uid)
	if s == nil || s.ID == old.ID || len(s.Videos) != 0 {
		t.Fatalf("expected a fresh session, got %+v", s)
	}
	if h.scratch.Len() != 0 {
		t.Fatal("objects of the replaced session should be deleted")
	}
}

func TestRedeemAlreadyUsedKey(t *testing.T) {
	h := newHarness(t)
	token, _, err := h.auth.IssueKey(h.ctx, "1h", ownerID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	h.text(42, token)
	h.expectLast(42, "Activated")
	h.text(43, token)
	h.expectLast(43, "Key already used")

	if ok, _ := h.auth.CheckEntitlement(43); ok {
		t.Fatal("second redeemer must not be entitled")
	}
	if h.db.Subscriptions.Len() != 1 {
		t.Fatalf("expected one subscription, got %d", h.db.Subscriptions.Len())
	}

	h.text(44, "ZZZZZZZZZZZZ")
	h.expectLast(44, "Invalid key")
}

func TestUnsubscribedUserIsRejected(t *testing.T) {
	h := newHarness(t)
	const uid = 50

	h.video(uid, "v1", "", "1")
	h.expectLast(uid, "Need subscription")
	if h.scratch.Len() != 0 || h.session(uid) != nil {
		t.Fatal("nothing should be staged without a subscription")
	}

	h.callback(uid, cbStartEdit)
	cbs := h.client.Callbacks()
	if len(cbs) == 0 || !cbs[len(cbs)-1].ShowAlert {
		t.Fatalf("expected an alert answer, got %+v", cbs)
	}
	if h.session(uid) != nil {
		t.Fatal("start_edit must not open a session without a subscription")
	}
}

func TestOwnerIssuesKey(t *testing.T) {
	h := newHarness(t)

	h.callback(ownerID, cbGenKey)
	if s := h.session(ownerID); s == nil || s.Step != session.StepKeyDuration {
		t.Fatalf("expected key duration step, got %+v", s)
	}
	h.text(ownerID, "7x")
	h.expectLast(ownerID, "Invalid")
	if s := h.session(ownerID); s == nil || s.Step != session.StepKeyDuration {
		t.Fatal("invalid duration must keep the step")
	}

	h.text(ownerID, "7d")
	h.expectLast(ownerID, "Key Generated")
	if h.session(ownerID) != nil {
		t.Fatal("session should end after issuing")
	}
	if h.db.Keys.Len() != 1 {
		t.Fatalf("expected one key, got %d", h.db.Keys.Len())
	}
	for _, token := range h.db.Keys.Keys() {
		if !subscription.LooksLikeKey(token) {
			t.Fatalf("issued key has wrong shape %q", token)
		}
	}
}

func TestNonOwnerCannotUseOwnerCallbacks(t *testing.T) {
	h := newHarness(t)
	h.callback(42, cbGenKey)
	h.callback(42, cbBroadcast)
	h.callback(42, cbStats)
	if h.session(42) != nil {
		t.Fatal("owner flows must not start for other users")
	}
	if len(h.client.Texts(42)) != 0 {
		t.Fatalf("expected no output, got %v", h.client.Texts(42))
	}
}

func TestOwnerBroadcastsPhoto(t *testing.T) {
	h := newHarness(t)
	h.text(ownerID, "/start")
	h.text(42, "/start")
	h.text(43, "/start")
	if h.db.Users.Len() != 3 {
		t.Fatalf("expected 3 users, got %d", h.db.Users.Len())
	}

	h.callback(ownerID, cbBroadcast)
	h.photo(ownerID, "promo")

	for _, uid := range []int64{42, 43} {
		photos := h.client.Photos(uid)
		if len(photos) != 1 {
			t.Fatalf("user %d: expected one photo, got %d", uid, len(photos))
		}
		if id, ok := photos[0].File.(tgbotapi.FileID); !ok || string(id) != "promo" {
			t.Fatalf("user %d: photo not forwarded by id", uid)
		}
	}
	h.expectLast(ownerID, "Sent: 3")
	if h.session(ownerID) != nil {
		t.Fatal("broadcast session should end")
	}
}

func TestStartShowsRoleMenus(t *testing.T) {
	h := newHarness(t)
	h.text(ownerID, "/start")
	h.text(42, "/start")

	var ownerMenu, userMenu tgbotapi.InlineKeyboardMarkup
	for _, m := range h.client.Sent {
		mc, ok := m.(tgbotapi.MessageConfig)
		if !ok {
			continue
		}
		kb, _ := mc.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		switch mc.ChatID {
		case ownerID:
			ownerMenu = kb
		case 42:
			userMenu = kb
		}
	}
	if len(ownerMenu.InlineKeyboard) != 4 || *ownerMenu.InlineKeyboard[0][0].CallbackData != cbGenKey {
		t.Fatalf("unexpected owner menu %+v", ownerMenu)
	}
	if len(userMenu.InlineKeyboard) != 2 || *userMenu.InlineKeyboard[0][0].CallbackData != cbBuySub {
		t.Fatalf("unexpected subscriber-less menu %+v", userMenu)
	}
	if u, ok := h.db.Users.Get("42"); !ok || u.Name != "User Name" || u.Status != store.StatusActive {
		t.Fatalf("user not registered: %+v", u)
	}
}
