package scratch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wapuda/vidrelay/internal/config"
	"github.com/wapuda/vidrelay/internal/logx"
)

const (
	driveTokenURI  = "https://oauth2.googleapis.com/token"
	driveChunkSize = 8 * 1024 * 1024
	videoMIME      = "video/mp4"
)

// Drive stores objects in one Google Drive folder owned by a service account.
type Drive struct {
	files    *drive.FilesService
	folderID string
}

func NewDrive(ctx context.Context, cfg config.DriveConfig) (*Drive, error) {
	raw, err := ServiceAccountJSON(cfg)
	if err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("drive credentials: %w", err)
	}
	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return newDrive(svc, cfg.FolderID), nil
}

func newDrive(svc *drive.Service, folderID string) *Drive {
	return &Drive{files: svc.Files, folderID: folderID}
}

// ServiceAccountJSON returns the credential document, building one from the
// client email + private key pair when no JSON blob is configured.
func ServiceAccountJSON(cfg config.DriveConfig) ([]byte, error) {
	if cfg.CredentialsJSON != "" {
		if !json.Valid([]byte(cfg.CredentialsJSON)) {
			return nil, errors.New("drive credentials: GOOGLE_CREDENTIALS_JSON is not valid JSON")
		}
		return []byte(cfg.CredentialsJSON), nil
	}
	if cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.New("drive credentials: no service account configured")
	}
	return json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": cfg.ClientEmail,
		"private_key":  cfg.PrivateKey,
		"token_uri":    driveTokenURI,
	})
}

func (d *Drive) Put(ctx context.Context, name string, data []byte) (string, error) {
	meta := &drive.File{Name: name, MimeType: videoMIME}
	if d.folderID != "" {
		meta.Parents = []string{d.folderID}
	}
	f, err := d.files.Create(meta).
		Media(bytes.NewReader(data), googleapi.ContentType(videoMIME), googleapi.ChunkSize(driveChunkSize)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", transferErr("upload", name, err)
	}
	return f.Id, nil
}

func (d *Drive) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := d.files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, transferErr("download", id, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transferErr("download", id, err)
	}
	return b, nil
}

func (d *Drive) Delete(ctx context.Context, id string) bool {
	if err := d.files.Delete(id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		l := logx.FromCtx(ctx)
		l.Warn().Err(err).Str("object_id", id).Msg("drive delete failed")
		return false
	}
	return true
}
