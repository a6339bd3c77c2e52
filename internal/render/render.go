// Package render delivers the staged videos of a finished session back to the
// user with the shared thumbnail and the rewritten captions.
package render

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/jobs"
	"github.com/wapuda/vidrelay/internal/logx"
	"github.com/wapuda/vidrelay/internal/scratch"
	"github.com/wapuda/vidrelay/internal/tg"
)

// Fetcher reads a Telegram file by id; *tg.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

type Renderer struct {
	Client  tg.Client
	Files   Fetcher
	Scratch scratch.Store
	// Limit is the largest video the bot may upload, in bytes.
	Limit int64
}

type Report struct {
	Total     int
	Delivered int
	Failed    int
	Oversized int
}

// Caption applies the find/replace pair. Nothing changes unless all three
// values are non-empty.
func Caption(caption, find, replace string) string {
	if find == "" || replace == "" || caption == "" {
		return caption
	}
	return strings.ReplaceAll(caption, find, replace)
}

// Render processes videos in arrival order. A failure on one video is
// reported to the user and the rest still go out. Objects are deleted only
// after Telegram accepted the upload; skipped and failed ones stay staged.
func (r *Renderer) Render(ctx context.Context, p jobs.RenderPayload) Report {
	ctx = logx.WithSession(ctx, p.SessionID, p.UserID)
	l := logx.FromCtx(ctx)
	rep := Report{Total: len(p.Videos)}

	status := tg.NewStatus(r.Client, p.ChatID)
	status.Set(ctx, fmt.Sprintf("⏳ <b>Processing %d...</b>\n\n📥 Downloading...", rep.Total))

	var thumb []byte
	if p.ThumbFileID != "" {
		b, err := r.Files.Fetch(ctx, p.ThumbFileID)
		if err != nil {
			// videos still go out, just without the custom thumbnail
			l.Error().Err(err).Msg("thumbnail download failed")
		} else {
			thumb = b
		}
	}

	for i, v := range p.Videos {
		idx := i + 1
		if r.Limit > 0 && v.Size > r.Limit {
			rep.Oversized++
			l.Warn().Int("idx", idx).Int64("size", v.Size).Msg("video above upload limit, kept in scratch")
			tg.Reply(ctx, r.Client, tgbotapi.NewMessage(p.ChatID,
				fmt.Sprintf("⚠️ Video %d is %d MB, above the %d MB upload limit. Skipped.", idx, v.Size>>20, r.Limit>>20)))
			continue
		}

		status.Set(ctx, fmt.Sprintf("⏳ <b>%d/%d</b>\n\n📥 Downloading from storage...", idx, rep.Total))
		data, err := r.Scratch.Get(ctx, v.ObjectID)
		if err != nil {
			rep.Failed++
			l.Error().Err(err).Int("idx", idx).Msg("scratch download failed")
			tg.Reply(ctx, r.Client, tgbotapi.NewMessage(p.ChatID, fmt.Sprintf("❌ Video %d download failed", idx)))
			continue
		}

		status.Set(ctx, fmt.Sprintf("⏳ <b>%d/%d</b>\n\n📤 Uploading with new thumbnail...", idx, rep.Total))
		if err := r.send(p, v, data, thumb); err != nil {
			rep.Failed++
			l.Error().Err(err).Int("idx", idx).Msg("video upload failed")
			tg.Reply(ctx, r.Client, tgbotapi.NewMessage(p.ChatID, fmt.Sprintf("❌ Video %d: %v", idx, err)))
			continue
		}

		r.Scratch.Delete(ctx, v.ObjectID)
		rep.Delivered++
		status.Set(ctx, fmt.Sprintf("⏳ <b>%d/%d</b>\n✅ Done: %d", idx, rep.Total, rep.Delivered))
	}

	status.Set(ctx, summary(rep, p))
	l.Info().Int("total", rep.Total).Int("delivered", rep.Delivered).
		Int("failed", rep.Failed).Int("oversized", rep.Oversized).Msg("render finished")
	return rep
}

// videoUpload builds a sendVideo request. tgbotapi.VideoConfig has no width
// or height, so the request is assembled by hand.
func videoUpload(chatID int64, v jobs.Video, caption string, data, thumb []byte) (tgbotapi.Params, []tgbotapi.RequestFile) {
	name := v.FileName
	if name == "" {
		name = "video.mp4"
	}
	params := tgbotapi.Params{"chat_id": strconv.FormatInt(chatID, 10)}
	params.AddNonEmpty("caption", caption)
	params.AddNonZero("duration", v.Duration)
	params.AddNonZero("width", v.Width)
	params.AddNonZero("height", v.Height)
	params.AddBool("supports_streaming", true)

	files := []tgbotapi.RequestFile{{Name: "video", Data: tgbotapi.FileBytes{Name: name, Bytes: data}}}
	if thumb != nil {
		files = append(files, tgbotapi.RequestFile{Name: "thumb", Data: tgbotapi.FileBytes{Name: "thumb.jpg", Bytes: thumb}})
	}
	return params, files
}

func (r *Renderer) send(p jobs.RenderPayload, v jobs.Video, data, thumb []byte) error {
	params, files := videoUpload(p.ChatID, v, Caption(v.Caption, p.Find, p.Replace), data, thumb)
	_, err := r.Client.UploadFiles("sendVideo", params, files)
	return err
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func summary(rep Report, p jobs.RenderPayload) string {
	var b strings.Builder
	b.WriteString("✅ <b>Complete!</b>\n\n")
	fmt.Fprintf(&b, "📹 Done: %d/%d\n", rep.Delivered, rep.Total)
	if rep.Oversized > 0 {
		fmt.Fprintf(&b, "⚠️ Too large: %d\n", rep.Oversized)
	}
	fmt.Fprintf(&b, "🖼️ Thumbnail: %s\n", mark(p.ThumbFileID != ""))
	fmt.Fprintf(&b, "✏️ Caption: %s\n\n/start", mark(p.Find != ""))
	return b.String()
}
