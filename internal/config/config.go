package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendDrive  = "drive"
	BackendS3     = "s3"
	BackendMemory = "memory"

	SessionsMemory = "memory"
	SessionsRedis  = "redis"

	QueueInline = "inline"
	QueueAsynq  = "asynq"
)

// Config is everything the bot and worker read from the environment.
type Config struct {
	BotToken        string
	OwnerID         int64
	SupportUsername string
	Port            int
	DataDir         string

	ScratchBackend string
	Drive          DriveConfig
	S3             S3Config

	UploadLimitBytes int64

	SessionStore string
	SessionTTL   time.Duration
	RedisAddr    string

	RenderQueue       string
	WorkerConcurrency int
}

// DriveConfig holds one of the two service-account credential shapes.
type DriveConfig struct {
	CredentialsJSON string
	ClientEmail     string
	PrivateKey      string
	FolderID        string
}

func (d DriveConfig) HasCredentials() bool {
	return d.CredentialsJSON != "" || (d.ClientEmail != "" && d.PrivateKey != "")
}

type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func mustDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// Load reads the environment (callers run godotenv.Load first) and validates it.
// Any error here is fatal: the process cannot serve without it.
func Load() (Config, error) {
	mb := mustInt("TG_UPLOAD_LIMIT_MB", 49)
	c := Config{
		BotToken:        getenv("BOT_TOKEN", ""),
		SupportUsername: strings.TrimPrefix(getenv("SUPPORT_USERNAME", "your_username"), "@"),
		Port:            mustInt("PORT", 10000),
		DataDir:         getenv("DATA_DIR", "."),
		ScratchBackend:  strings.ToLower(getenv("SCRATCH_BACKEND", BackendDrive)),
		Drive: DriveConfig{
			CredentialsJSON: getenv("GOOGLE_CREDENTIALS_JSON", ""),
			ClientEmail:     getenv("GOOGLE_CLIENT_EMAIL", ""),
			PrivateKey:      strings.ReplaceAll(getenv("GOOGLE_PRIVATE_KEY", ""), `\n`, "\n"),
			FolderID:        getenv("GOOGLE_FOLDER_ID", ""),
		},
		S3: S3Config{
			Bucket:   getenv("S3_BUCKET", ""),
			Region:   getenv("S3_REGION", "us-east-1"),
			Endpoint: getenv("S3_ENDPOINT", ""),
			Prefix:   strings.Trim(getenv("S3_PREFIX", "scratch"), "/"),
		},
		UploadLimitBytes:  int64(mb) * 1024 * 1024,
		SessionStore:      strings.ToLower(getenv("SESSION_STORE", SessionsMemory)),
		SessionTTL:        mustDuration("SESSION_TTL", 0),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RenderQueue:       strings.ToLower(getenv("RENDER_QUEUE", QueueInline)),
		WorkerConcurrency: mustInt("WORKER_CONCURRENCY", 2),
	}

	if raw := getenv("OWNER_ID", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("OWNER_ID %q: %w", raw, err)
		}
		c.OwnerID = id
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.OwnerID == 0 {
		return errors.New("OWNER_ID is required")
	}
	switch c.ScratchBackend {
	case BackendDrive:
		if !c.Drive.HasCredentials() {
			return errors.New("drive backend needs GOOGLE_CREDENTIALS_JSON or GOOGLE_CLIENT_EMAIL + GOOGLE_PRIVATE_KEY")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("s3 backend needs S3_BUCKET")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown SCRATCH_BACKEND %q", c.ScratchBackend)
	}
	switch c.SessionStore {
	case SessionsMemory, SessionsRedis:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}
	switch c.RenderQueue {
	case QueueInline:
	case QueueAsynq:
		if c.SessionStore != SessionsRedis {
			return errors.New("RENDER_QUEUE=asynq requires SESSION_STORE=redis")
		}
	default:
		return fmt.Errorf("unknown RENDER_QUEUE %q", c.RenderQueue)
	}
	if c.UploadLimitBytes <= 0 {
		return errors.New("TG_UPLOAD_LIMIT_MB must be positive")
	}
	return nil
}
