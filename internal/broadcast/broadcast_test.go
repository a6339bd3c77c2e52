package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/store"
	"github.com/wapuda/vidrelay/internal/tg/tgtest"
)

func openUsers(t *testing.T, users ...store.User) (*store.Table[store.User], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), store.UserFile)
	tbl, err := store.OpenTable[store.User](path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, u := range users {
		if err := tbl.Put(store.IDKey(u.ID), u); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	return tbl, path
}

func TestBroadcastMarksBlockedUsers(t *testing.T) {
	users, path := openUsers(t,
		store.User{ID: 1, Status: store.StatusActive},
		store.User{ID: 2, Status: store.StatusActive},
		store.User{ID: 3, Status: store.StatusActive},
	)
	c := tgtest.NewClient(t)
	c.SendErr[2] = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}

	b := &Broadcaster{Client: c, Users: users}
	sum := b.Send(context.Background(), Message{Text: "hi all"})
	if sum != (Summary{Sent: 2, Blocked: 1}) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if got := c.Texts(1); len(got) != 1 || got[0] != "📢 hi all" {
		t.Fatalf("unexpected text %v", got)
	}

	// the flip must be on disk, not just in memory
	reopened, err := store.OpenTable[store.User](path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if u, _ := reopened.Get("2"); u.Status != store.StatusBlocked {
		t.Fatalf("user 2 should be blocked, got %q", u.Status)
	}

	c.SendErr = map[int64]error{}
	sum = b.Send(context.Background(), Message{Text: "again"})
	if sum.Sent != 2 || len(c.Texts(2)) != 0 {
		t.Fatalf("blocked user must be skipped: %+v", sum)
	}
}

func TestBroadcastMediaAndTransientFailures(t *testing.T) {
	users, _ := openUsers(t,
		store.User{ID: 10, Status: store.StatusActive},
		store.User{ID: 11, Status: store.StatusActive},
	)
	c := tgtest.NewClient(t)
	c.SendErr[11] = errors.New("Too Many Requests: retry after 5")

	b := &Broadcaster{Client: c, Users: users}
	sum := b.Send(context.Background(), Message{PhotoFileID: "photo-1", Caption: "new"})
	if sum != (Summary{Sent: 1, Failed: 1}) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	photos := c.Photos(10)
	if len(photos) != 1 || photos[0].Caption != "new" {
		t.Fatalf("unexpected photos %+v", photos)
	}
	if id, ok := photos[0].File.(tgbotapi.FileID); !ok || string(id) != "photo-1" {
		t.Fatalf("photo not passed through by id: %+v", photos[0].File)
	}
	if u, _ := users.Get("11"); u.Status != store.StatusActive {
		t.Fatal("transient failure must not block the user")
	}

	sum = b.Send(context.Background(), Message{VideoFileID: "vid-1"})
	if sum.Sent != 1 || len(c.Videos(10)) != 1 {
		t.Fatalf("video broadcast: %+v", sum)
	}
}
