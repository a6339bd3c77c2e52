package store

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"
)

const (
	UserFile         = "users.json"
	KeyFile          = "auth_keys.json"
	SubscriptionFile = "subscriptions.json"

	StatusActive  = "active"
	StatusBlocked = "blocked"
)

type User struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Status   string    `json:"status"` // active|blocked
	Joined   time.Time `json:"joined"`
}

// Key is a one-shot activation key, stored under its token.
type Key struct {
	DurationHours int        `json:"duration_hours"`
	DurationLabel string     `json:"duration_str"` // as typed by the owner, e.g. "7d"
	Created       time.Time  `json:"created"`
	CreatedBy     int64      `json:"created_by"`
	Used          bool       `json:"used"`
	UsedBy        int64      `json:"used_by,omitempty"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
}

// Subscription is stored under the subscriber's identity.
type Subscription struct {
	Key       string    `json:"key"`
	Activated time.Time `json:"activated"`
	Expiry    time.Time `json:"expiry"`
	Duration  string    `json:"duration"`
}

// DB bundles the three tables. They share nothing, not even a lock.
type DB struct {
	Users         *Table[User]
	Keys          *Table[Key]
	Subscriptions *Table[Subscription]
}

func Open(dir string) (*DB, error) {
	users, err := OpenTable[User](filepath.Join(dir, UserFile))
	if err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	keys, err := OpenTable[Key](filepath.Join(dir, KeyFile))
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	subs, err := OpenTable[Subscription](filepath.Join(dir, SubscriptionFile))
	if err != nil {
		return nil, fmt.Errorf("subscriptions: %w", err)
	}
	return &DB{Users: users, Keys: keys, Subscriptions: subs}, nil
}

func IDKey(id int64) string { return strconv.FormatInt(id, 10) }

// RegisterUser records a user on first contact. Existing rows are left alone.
func (db *DB) RegisterUser(u User) (created bool, err error) {
	err = db.Users.Update(IDKey(u.ID), func(cur User, exists bool) (User, bool) {
		if exists {
			return cur, false
		}
		if u.Status == "" {
			u.Status = StatusActive
		}
		created = true
		return u, true
	})
	return created, err
}
