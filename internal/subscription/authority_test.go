package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wapuda/vidrelay/internal/store"
)

const owner = int64(1001)

func newTestAuthority(t *testing.T, now time.Time) (*Authority, *store.DB) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	a := NewAuthority(db, owner)
	a.now = func() time.Time { return now }
	return a, db
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in    string
		hours int
		ok    bool
	}{
		{"7d", 168, true},
		{"1h", 1, true},
		{"30D", 720, true},
		{" 12h ", 12, true},
		{"12", 0, false},
		{"5m", 0, false},
		{"d", 0, false},
		{"0d", 0, false},
		{"-3h", 0, false},
		{"+3h", 0, false},
		{"1.5d", 0, false},
		{"", 0, false},
		{"36500d", MaxDurationHours, true},
		{"876000h", MaxDurationHours, true},
		{"36501d", 0, false},
		{"876001h", 0, false},
		{"200000d", 0, false},
		{"384307170000000000d", 0, false},
		{"99999999999999999999h", 0, false},
	}
	for _, tc := range tests {
		hours, err := ParseDuration(tc.in)
		if tc.ok {
			if err != nil || hours != tc.hours {
				t.Fatalf("ParseDuration(%q) = %d, %v; want %d", tc.in, hours, err, tc.hours)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("ParseDuration(%q) expected ErrInvalidDuration got %d, %v", tc.in, hours, err)
		}
	}
}

func TestLooksLikeKey(t *testing.T) {
	tests := map[string]bool{
		"ABCDEF123456":  true,
		"ABCDEFGHIJKL":  true,
		"123456789012":  false,
		"abcdef123456":  false,
		"ABCDEF12345":   false,
		"ABCDEF1234567": false,
		"ABCDEF 12345":  false,
	}
	for in, want := range tests {
		if got := LooksLikeKey(in); got != want {
			t.Fatalf("LooksLikeKey(%q) = %v want %v", in, got, want)
		}
	}
}

func TestIssueKey(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a, db := newTestAuthority(t, now)

	token, k, err := a.IssueKey(context.Background(), "7d", owner)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for _, r := range token {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			t.Fatalf("unexpected key alphabet %q", token)
		}
	}
	if len(token) != KeyLength {
		t.Fatalf("expected %d chars got %q", KeyLength, token)
	}
	if k.DurationHours != 168 || k.Used || k.CreatedBy != owner || !k.Created.Equal(now) {
		t.Fatalf("unexpected key %+v", k)
	}
	if _, ok := db.Keys.Get(token); !ok {
		t.Fatal("key not persisted")
	}
}

func TestIssueKeyRejectsBadDuration(t *testing.T) {
	a, db := newTestAuthority(t, time.Now())

	if _, _, err := a.IssueKey(context.Background(), "12", owner); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration got %v", err)
	}
	if db.Keys.Len() != 0 {
		t.Fatal("invalid duration must not create a key")
	}
}

func TestRedeemKeyOnce(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a, db := newTestAuthority(t, now)
	ctx := context.Background()

	if err := db.Keys.Put("ABCDEF123456", store.Key{DurationHours: 24, DurationLabel: "1d"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sub, err := a.RedeemKey(ctx, 7, "ABCDEF123456")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !sub.Expiry.Equal(now.Add(24*time.Hour)) || sub.Key != "ABCDEF123456" || sub.Duration != "1d" {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	k, _ := db.Keys.Get("ABCDEF123456")
	if !k.Used || k.UsedBy != 7 || k.UsedAt == nil {
		t.Fatalf("key not marked used: %+v", k)
	}

	for i := 0; i < 3; i++ {
		if _, err := a.RedeemKey(ctx, 8, "ABCDEF123456"); !errors.Is(err, ErrAlreadyUsed) {
			t.Fatalf("attempt %d: expected ErrAlreadyUsed got %v", i, err)
		}
	}
	if _, ok := db.Subscriptions.Get(store.IDKey(8)); ok {
		t.Fatal("already-used key must not create a subscription")
	}
	if got, _ := db.Subscriptions.Get(store.IDKey(7)); !got.Expiry.Equal(sub.Expiry) {
		t.Fatalf("original subscription altered: %+v", got)
	}
}

func TestRedeemRejectsOutOfRangeStoredKey(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a, db := newTestAuthority(t, now)
	if err := db.Keys.Put("HUGE00000000", store.Key{DurationHours: 4_800_000, DurationLabel: "200000d"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := a.RedeemKey(context.Background(), 7, "HUGE00000000"); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration got %v", err)
	}
	if _, ok := db.Subscriptions.Get(store.IDKey(7)); ok {
		t.Fatal("out-of-range key must not create a subscription")
	}
	if k, _ := db.Keys.Get("HUGE00000000"); k.Used {
		t.Fatal("rejected key must stay unused")
	}
}

func TestLongestKeyStaysEntitled(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a, _ := newTestAuthority(t, now)
	ctx := context.Background()

	token, _, err := a.IssueKey(ctx, "36500d", owner)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := a.RedeemKey(ctx, 7, token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !sub.Expiry.After(now) {
		t.Fatalf("expiry %v is not after activation", sub.Expiry)
	}
	if ok, label := a.CheckEntitlement(7); !ok || label != "36500d left" {
		t.Fatalf("expected entitled with 36500d left, got %v %q", ok, label)
	}

	if _, _, err := a.IssueKey(ctx, "200000d", owner); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration got %v", err)
	}
}

func TestRedeemKeyConcurrent(t *testing.T) {
	a, db := newTestAuthority(t, time.Now())
	if err := db.Keys.Put("ZZZZZZ000000", store.Key{DurationHours: 1, DurationLabel: "1h"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := a.RedeemKey(context.Background(), id, "ZZZZZZ000000"); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(int64(100 + i))
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one redemption got %d", success)
	}
}

func TestRedeemUnknownKey(t *testing.T) {
	a, db := newTestAuthority(t, time.Now())
	if _, err := a.RedeemKey(context.Background(), 7, "NOPE00000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if db.Subscriptions.Len() != 0 {
		t.Fatal("unexpected subscription")
	}
}

func TestCheckEntitlement(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a, db := newTestAuthority(t, now)

	seed := map[int64]time.Time{
		10: now.Add(72*time.Hour + time.Minute),
		11: now.Add(5*time.Hour + 30*time.Minute),
		12: now,
		13: now.Add(-time.Hour),
	}
	for id, exp := range seed {
		if err := db.Subscriptions.Put(store.IDKey(id), store.Subscription{Expiry: exp}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	tests := []struct {
		id    int64
		ok    bool
		label string
	}{
		{owner, true, "Owner"},
		{10, true, "3d left"},
		{11, true, "5h left"},
		{12, false, "Expired"},
		{13, false, "Expired"},
		{99, false, "No sub"},
	}
	for _, tc := range tests {
		ok, label := a.CheckEntitlement(tc.id)
		if ok != tc.ok || label != tc.label {
			t.Fatalf("CheckEntitlement(%d) = %v, %q; want %v, %q", tc.id, ok, label, tc.ok, tc.label)
		}
	}

	if got := a.ActiveCount(); got != 2 {
		t.Fatalf("expected 2 active subscriptions got %d", got)
	}
}

func TestOwnerBypassesExpiredSubscription(t *testing.T) {
	now := time.Now()
	a, db := newTestAuthority(t, now)
	if err := db.Subscriptions.Put(store.IDKey(owner), store.Subscription{Expiry: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if ok, _ := a.CheckEntitlement(owner); !ok {
		t.Fatal("owner must always be entitled")
	}
}
