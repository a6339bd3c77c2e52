package session

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wapuda/vidrelay/internal/jobs"
)

type Step string

const (
	StepNone        Step = ""
	StepCollecting  Step = "collecting"
	StepWaitThumb   Step = "wait_thumb"
	StepGotThumb    Step = "got_thumb"
	StepWaitFind    Step = "wait_find"
	StepWaitReplace Step = "wait_replace"
	StepRendering   Step = "rendering"

	// owner-only flows share the same per-user slot
	StepKeyDuration Step = "await_key_duration"
	StepBroadcast   Step = "await_broadcast"
)

// Session is the in-flight editing state of one user.
type Session struct {
	ID          string       `json:"id"`
	UserID      int64        `json:"user_id"`
	ChatID      int64        `json:"chat_id"`
	Step        Step         `json:"step"`
	Videos      []jobs.Video `json:"videos"`
	ThumbFileID string       `json:"thumb_file_id,omitempty"`
	Find        string       `json:"find,omitempty"`
	Replace     string       `json:"replace,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func New(userID, chatID int64, step Step) *Session {
	return &Session{
		ID:        ulid.Make().String(),
		UserID:    userID,
		ChatID:    chatID,
		Step:      step,
		UpdatedAt: time.Now(),
	}
}

// Editing reports whether the session holds staged videos (as opposed to an owner flow).
func (s *Session) Editing() bool {
	if s == nil {
		return false
	}
	switch s.Step {
	case StepKeyDuration, StepBroadcast, StepNone:
		return false
	}
	return true
}

// AwaitsText reports whether the next free-text message is session input.
func (s *Session) AwaitsText() bool {
	if s == nil {
		return false
	}
	switch s.Step {
	case StepWaitFind, StepWaitReplace, StepKeyDuration, StepBroadcast:
		return true
	}
	return false
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Videos = append([]jobs.Video(nil), s.Videos...)
	return &c
}

// Payload snapshots what the renderer needs.
func (s *Session) Payload() jobs.RenderPayload {
	return jobs.RenderPayload{
		SessionID:   s.ID,
		ChatID:      s.ChatID,
		UserID:      s.UserID,
		Videos:      append([]jobs.Video(nil), s.Videos...),
		ThumbFileID: s.ThumbFileID,
		Find:        s.Find,
		Replace:     s.Replace,
	}
}
