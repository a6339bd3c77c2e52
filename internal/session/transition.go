package session

import (
	"strings"

	"github.com/wapuda/vidrelay/internal/jobs"
)

type EventKind int

const (
	EventVideo EventKind = iota + 1
	EventImage
	EventText
)

// Event is one inbound message reduced to what the state machine looks at.
type Event struct {
	Kind        EventKind
	UserID      int64
	ChatID      int64
	ImageFileID string
	Text        string
}

// Effect is work the caller must perform after a transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectStageVideo
	EffectRender
	EffectIssueKey
	EffectBroadcast
)

// Notice names the reply the user should see.
type Notice int

const (
	NoticeNone Notice = iota
	NoticeSendVideosFirst
	NoticeNoVideos
	NoticeSendMoreOrDone
	NoticeSendThumbnail
	NoticeThumbSaved
	NoticeYesOrNo
	NoticeAskFind
	NoticeAskReplace
	NoticeRendering
	NoticeRenderBusy
	NoticeFinishStep
	NoticeAskDuration
)

// Outcome of a transition. Session is the next state; nil means the session
// is gone. The input session is never modified.
type Outcome struct {
	Session *Session
	Effect  Effect
	Notice  Notice
}

func normalize(text string) string { return strings.ToLower(strings.TrimSpace(text)) }

// Transition advances the per-user conversation by one inbound event.
func Transition(cur *Session, ev Event) Outcome {
	s := cur.Clone()
	if s == nil || s.Step == StepNone {
		return fromNone(s, ev)
	}

	switch s.Step {
	case StepCollecting:
		switch ev.Kind {
		case EventVideo:
			return Outcome{Session: s, Effect: EffectStageVideo}
		case EventImage:
			return acceptThumb(s, ev)
		case EventText:
			if normalize(ev.Text) != "done" {
				return Outcome{Session: s, Notice: NoticeSendMoreOrDone}
			}
			if len(s.Videos) == 0 {
				return Outcome{Session: s, Notice: NoticeNoVideos}
			}
			s.Step = StepWaitThumb
			return Outcome{Session: s, Notice: NoticeSendThumbnail}
		}

	case StepWaitThumb:
		if ev.Kind == EventImage {
			return acceptThumb(s, ev)
		}
		return Outcome{Session: s, Notice: NoticeSendThumbnail}

	case StepGotThumb:
		switch ev.Kind {
		case EventImage:
			return acceptThumb(s, ev)
		case EventText:
			switch normalize(ev.Text) {
			case "yes":
				s.Step = StepWaitFind
				return Outcome{Session: s, Notice: NoticeAskFind}
			case "no":
				s.Step = StepRendering
				return Outcome{Session: s, Effect: EffectRender, Notice: NoticeRendering}
			}
			return Outcome{Session: s, Notice: NoticeYesOrNo}
		}
		return Outcome{Session: s, Notice: NoticeFinishStep}

	case StepWaitFind:
		if ev.Kind != EventText {
			return Outcome{Session: s, Notice: NoticeAskFind}
		}
		s.Find = ev.Text
		s.Step = StepWaitReplace
		return Outcome{Session: s, Notice: NoticeAskReplace}

	case StepWaitReplace:
		if ev.Kind != EventText {
			return Outcome{Session: s, Notice: NoticeAskReplace}
		}
		s.Replace = ev.Text
		s.Step = StepRendering
		return Outcome{Session: s, Effect: EffectRender, Notice: NoticeRendering}

	case StepRendering:
		return Outcome{Session: s, Notice: NoticeRenderBusy}

	case StepKeyDuration:
		if ev.Kind != EventText {
			return Outcome{Session: s, Notice: NoticeAskDuration}
		}
		// the key is issued by the caller; the session ends only if that succeeds
		return Outcome{Session: s, Effect: EffectIssueKey}

	case StepBroadcast:
		return Outcome{Session: nil, Effect: EffectBroadcast}
	}

	return Outcome{Session: s}
}

func fromNone(s *Session, ev Event) Outcome {
	switch ev.Kind {
	case EventVideo:
		next := New(ev.UserID, ev.ChatID, StepCollecting)
		if s != nil {
			next.ID = s.ID
		}
		return Outcome{Session: next, Effect: EffectStageVideo}
	case EventImage:
		return Outcome{Session: s, Notice: NoticeSendVideosFirst}
	}
	return Outcome{Session: s}
}

func acceptThumb(s *Session, ev Event) Outcome {
	if len(s.Videos) == 0 {
		return Outcome{Session: s, Notice: NoticeSendVideosFirst}
	}
	s.ThumbFileID = ev.ImageFileID
	s.Step = StepGotThumb
	return Outcome{Session: s, Notice: NoticeThumbSaved}
}

// Stage appends a staged video to a collecting session.
func Stage(s *Session, v jobs.Video) *Session {
	next := s.Clone()
	next.Videos = append(next.Videos, v)
	return next
}
