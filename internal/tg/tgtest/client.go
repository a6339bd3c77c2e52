// Package tgtest provides an in-memory tg.Client that records what was sent
// and serves Telegram files from an httptest server.
package tgtest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Client struct {
	mu       sync.Mutex
	srv      *httptest.Server
	files    map[string][]byte
	nextID   int
	Sent     []tgbotapi.Chattable
	Requests []tgbotapi.Chattable
	Uploaded []Upload
	// SendErr fails every Send and UploadFiles to the given chat.
	SendErr map[int64]error
}

func NewClient(t *testing.T) *Client {
	t.Helper()
	c := &Client{files: make(map[string][]byte), SendErr: make(map[int64]error)}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		b, ok := c.files[strings.TrimPrefix(r.URL.Path, "/file/")]
		c.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(c.srv.Close)
	return c
}

// AddFile makes fileID downloadable through GetFileDirectURL.
func (c *Client) AddFile(fileID string, data []byte) {
	c.mu.Lock()
	c.files[fileID] = data
	c.mu.Unlock()
}

func (c *Client) GetFileDirectURL(fileID string) (string, error) {
	c.mu.Lock()
	_, ok := c.files[fileID]
	c.mu.Unlock()
	if !ok {
		return "", errors.New("Bad Request: invalid file_id")
	}
	return c.srv.URL + "/file/" + fileID, nil
}

func (c *Client) Send(m tgbotapi.Chattable) (tgbotapi.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chatID := ChatOf(m)
	if err := c.SendErr[chatID]; err != nil {
		return tgbotapi.Message{}, err
	}
	c.Sent = append(c.Sent, m)
	c.nextID++
	return tgbotapi.Message{MessageID: c.nextID, Chat: &tgbotapi.Chat{ID: chatID}}, nil
}

func (c *Client) Request(m tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, m)
	c.mu.Unlock()
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// Upload is one raw UploadFiles call.
type Upload struct {
	Method string
	Params tgbotapi.Params
	Files  []tgbotapi.RequestFile
}

func (u Upload) ChatID() int64 {
	id, _ := strconv.ParseInt(u.Params["chat_id"], 10, 64)
	return id
}

// File returns the in-memory payload sent under the multipart field name.
func (u Upload) File(field string) (tgbotapi.FileBytes, bool) {
	for _, f := range u.Files {
		if f.Name != field {
			continue
		}
		fb, ok := f.Data.(tgbotapi.FileBytes)
		return fb, ok
	}
	return tgbotapi.FileBytes{}, false
}

func (c *Client) UploadFiles(endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := Upload{Method: endpoint, Params: params, Files: files}
	if err := c.SendErr[u.ChatID()]; err != nil {
		return nil, err
	}
	c.Uploaded = append(c.Uploaded, u)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// Uploads returns the raw uploads made to chatID for the given method, in order.
func (c *Client) Uploads(chatID int64, method string) []Upload {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Upload
	for _, u := range c.Uploaded {
		if u.Method == method && u.ChatID() == chatID {
			out = append(out, u)
		}
	}
	return out
}

// ChatOf extracts the target chat of the config types the bot sends.
func ChatOf(m tgbotapi.Chattable) int64 {
	switch v := m.(type) {
	case tgbotapi.MessageConfig:
		return v.ChatID
	case tgbotapi.EditMessageTextConfig:
		return v.ChatID
	case tgbotapi.VideoConfig:
		return v.ChatID
	case tgbotapi.PhotoConfig:
		return v.ChatID
	}
	return 0
}

// Texts returns the text of every message and edit sent to chatID, in order.
func (c *Client) Texts(chatID int64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.Sent {
		switch v := m.(type) {
		case tgbotapi.MessageConfig:
			if v.ChatID == chatID {
				out = append(out, v.Text)
			}
		case tgbotapi.EditMessageTextConfig:
			if v.ChatID == chatID {
				out = append(out, v.Text)
			}
		}
	}
	return out
}

// LastText is the most recent text delivered to chatID, or "".
func (c *Client) LastText(chatID int64) string {
	texts := c.Texts(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (c *Client) Videos(chatID int64) []tgbotapi.VideoConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []tgbotapi.VideoConfig
	for _, m := range c.Sent {
		if v, ok := m.(tgbotapi.VideoConfig); ok && v.ChatID == chatID {
			out = append(out, v)
		}
	}
	return out
}

func (c *Client) Photos(chatID int64) []tgbotapi.PhotoConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []tgbotapi.PhotoConfig
	for _, m := range c.Sent {
		if v, ok := m.(tgbotapi.PhotoConfig); ok && v.ChatID == chatID {
			out = append(out, v)
		}
	}
	return out
}

// Callbacks returns the callback answers made through Request.
func (c *Client) Callbacks() []tgbotapi.CallbackConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, m := range c.Requests {
		if v, ok := m.(tgbotapi.CallbackConfig); ok {
			out = append(out, v)
		}
	}
	return out
}
