package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/wapuda/vidrelay/internal/logx"
	"github.com/wapuda/vidrelay/internal/store"
)

const (
	KeyLength   = 12
	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// MaxDurationHours is 100 years; longer keys would overflow time.Duration.
	MaxDurationHours = 100 * 365 * 24
)

var (
	ErrNotFound        = errors.New("activation key not found")
	ErrAlreadyUsed     = errors.New("activation key already used")
	ErrInvalidDuration = errors.New("invalid duration")
)

// Authority issues activation keys and answers entitlement questions.
type Authority struct {
	db      *store.DB
	ownerID int64
	now     func() time.Time

	redeemMu sync.Mutex
}

func NewAuthority(db *store.DB, ownerID int64) *Authority {
	return &Authority{db: db, ownerID: ownerID, now: time.Now}
}

func (a *Authority) IsOwner(id int64) bool { return id == a.ownerID }

// ParseDuration accepts "<n>d" or "<n>h" with n > 0 and returns hours, at
// most MaxDurationHours.
func ParseDuration(spec string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, spec)
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 || s[0] == '+' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, spec)
	}
	switch unit {
	case 'd':
		if n > MaxDurationHours/24 {
			return 0, fmt.Errorf("%w: %q exceeds %d days", ErrInvalidDuration, spec, MaxDurationHours/24)
		}
		return n * 24, nil
	case 'h':
		if n > MaxDurationHours {
			return 0, fmt.Errorf("%w: %q exceeds %d hours", ErrInvalidDuration, spec, MaxDurationHours)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, spec)
	}
}

// LooksLikeKey reports whether free text has the shape of an activation key.
func LooksLikeKey(text string) bool {
	if len(text) != KeyLength {
		return false
	}
	letter := false
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			letter = true
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return letter
}

// IssueKey stores a fresh unused key. Collisions with existing keys are not checked.
func (a *Authority) IssueKey(ctx context.Context, durationSpec string, issuer int64) (string, store.Key, error) {
	hours, err := ParseDuration(durationSpec)
	if err != nil {
		return "", store.Key{}, err
	}
	token, err := gonanoid.Generate(keyAlphabet, KeyLength)
	if err != nil {
		return "", store.Key{}, fmt.Errorf("generate key: %w", err)
	}
	k := store.Key{
		DurationHours: hours,
		DurationLabel: strings.TrimSpace(durationSpec),
		Created:       a.now(),
		CreatedBy:     issuer,
	}
	if err := a.db.Keys.Put(token, k); err != nil {
		return "", store.Key{}, fmt.Errorf("save key: %w", err)
	}
	l := logx.FromCtx(ctx)
	l.Info().Int64("issuer", issuer).Int("hours", hours).Msg("activation key issued")
	return token, k, nil
}

// RedeemKey turns an unused key into a subscription for identity.
//
// The subscription row is written before the key is marked used and the two
// files are persisted independently; a crash in between leaves a subscription
// whose key still reads as unused.
func (a *Authority) RedeemKey(ctx context.Context, identity int64, token string) (store.Subscription, error) {
	a.redeemMu.Lock()
	defer a.redeemMu.Unlock()

	k, ok := a.db.Keys.Get(token)
	if !ok {
		return store.Subscription{}, ErrNotFound
	}
	if k.Used {
		return store.Subscription{}, ErrAlreadyUsed
	}
	// keys are only written by IssueKey, but the file is editable by hand
	if k.DurationHours <= 0 || k.DurationHours > MaxDurationHours {
		return store.Subscription{}, fmt.Errorf("%w: key holds %d hours", ErrInvalidDuration, k.DurationHours)
	}

	now := a.now()
	sub := store.Subscription{
		Key:       token,
		Activated: now,
		Expiry:    now.Add(time.Duration(k.DurationHours) * time.Hour),
		Duration:  k.DurationLabel,
	}
	if err := a.db.Subscriptions.Put(store.IDKey(identity), sub); err != nil {
		return store.Subscription{}, fmt.Errorf("save subscription: %w", err)
	}

	usedAt := now
	k.Used = true
	k.UsedBy = identity
	k.UsedAt = &usedAt
	if err := a.db.Keys.Put(token, k); err != nil {
		return store.Subscription{}, fmt.Errorf("mark key used: %w", err)
	}

	l := logx.FromCtx(ctx)
	l.Info().Int64("user_id", identity).Str("duration", k.DurationLabel).Time("expiry", sub.Expiry).Msg("activation key redeemed")
	return sub, nil
}

// CheckEntitlement reports whether identity may edit, plus a coarse label.
func (a *Authority) CheckEntitlement(identity int64) (bool, string) {
	if a.IsOwner(identity) {
		return true, "Owner"
	}
	sub, ok := a.db.Subscriptions.Get(store.IDKey(identity))
	if !ok {
		return false, "No sub"
	}
	now := a.now()
	if !now.Before(sub.Expiry) {
		return false, "Expired"
	}
	return true, RemainingLabel(sub.Expiry.Sub(now))
}

// Subscription returns the stored row for identity, if any.
func (a *Authority) Subscription(identity int64) (store.Subscription, bool) {
	return a.db.Subscriptions.Get(store.IDKey(identity))
}

// RemainingLabel renders whole days, or whole hours under a day.
func RemainingLabel(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	if days > 0 {
		return fmt.Sprintf("%dd left", days)
	}
	return fmt.Sprintf("%dh left", int(d/time.Hour))
}

// ActiveCount is the number of subscriptions not yet expired.
func (a *Authority) ActiveCount() int {
	now := a.now()
	n := 0
	for _, sub := range a.db.Subscriptions.All() {
		if now.Before(sub.Expiry) {
			n++
		}
	}
	return n
}
