// Package tg narrows the Telegram Bot API client to what the bot uses, so the
// rest of the code can be driven by a fake in tests.
package tg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/vidrelay/internal/logx"
)

// Client is satisfied by *tgbotapi.BotAPI.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	// UploadFiles sends a raw multipart request, for fields the config types lack.
	UploadFiles(endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error)
}

// DropPendingUpdates discards updates queued while the bot was down; their
// in-memory sessions are gone.
func DropPendingUpdates(c Client) error {
	if _, err := c.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("drop pending updates: %w", err)
	}
	return nil
}

// maxDownload caps a single Telegram download. The Bot API itself refuses
// files above 20 MB, this only guards against a misbehaving server.
const maxDownload = 2 << 30

// Fetcher downloads Telegram files into memory.
type Fetcher struct {
	Client Client
	HTTP   *http.Client
}

func NewFetcher(c Client) *Fetcher {
	return &Fetcher{Client: c, HTTP: http.DefaultClient}
}

func (f *Fetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	url, err := f.Client.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve telegram file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download telegram file: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("read telegram file: %w", err)
	}
	return b, nil
}

// IsPermanent reports whether a send failed because the recipient can never
// be reached again (blocked the bot, deleted the account).
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked") || strings.Contains(msg, "deactivated")
}

func HTML(chatID int64, text string) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	return m
}

// Reply sends and logs failures; replies are never worth aborting a flow for.
func Reply(ctx context.Context, c Client, msg tgbotapi.Chattable) {
	if _, err := c.Send(msg); err != nil {
		l := logx.FromCtx(ctx)
		l.Warn().Err(err).Msg("telegram send failed")
	}
}

// Status is a progress message that is sent once and edited in place after.
type Status struct {
	client    Client
	chatID    int64
	messageID int
	last      string
}

func NewStatus(c Client, chatID int64) *Status {
	return &Status{client: c, chatID: chatID}
}

func (s *Status) Set(ctx context.Context, text string) {
	if text == s.last {
		// telegram rejects edits that change nothing
		return
	}
	s.last = text
	if s.messageID == 0 {
		m, err := s.client.Send(HTML(s.chatID, text))
		if err != nil {
			l := logx.FromCtx(ctx)
			l.Warn().Err(err).Msg("status send failed")
			return
		}
		s.messageID = m.MessageID
		return
	}
	edit := tgbotapi.NewEditMessageText(s.chatID, s.messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := s.client.Send(edit); err != nil {
		l := logx.FromCtx(ctx)
		l.Debug().Err(err).Msg("status edit failed")
	}
}

func (s *Status) MessageID() int { return s.messageID }
