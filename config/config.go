package config

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/rs/zerolog/log"
	"os"
	"outreach/pkg/mq"
	"time"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type Config struct {
	MetadataDB    Database          `json:"metadata_db"`
	SendQueue     SendQueue         `json:"send_queue"`
	Email         Email             `json:"email"`
	Tracking      Tracking          `json:"tracking"`
	Webhook       Webhook           `json:"webhook"`
	LogProducer   mq.ProducerConfig `json:"log_producer"`
	LogConsumer   mq.ConsumerConfig `json:"log_consumer"`
	CorsOrigins   []string          `json:"cors_origins"`
	ResumeOnStart bool              `json:"resume_on_start"`
}

type Database struct {
	Dialect     string `json:"dialect"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	SSLMode     string `json:"ssl_mode"`
	DSN         string `json:"dsn"` // overrides the fields above when set
	AutoMigrate bool   `json:"auto_migrate"`

	ConnectRetrySeconds int `json:"connect_retry_seconds"`
}

type SendQueue struct {
	MaxPerDay              int    `json:"max_per_day"`
	IntervalBetweenSendsMs int64  `json:"interval_between_sends_ms"`
	MaxConcurrentSends     int    `json:"max_concurrent_sends"`
	Location               string `json:"location"` // day boundary time zone
}

func (q *SendQueue) GetInterval() time.Duration {
	return time.Duration(q.IntervalBetweenSendsMs) * time.Millisecond
}

func (q *SendQueue) GetLocation() (*time.Location, error) {
	if q.Location == "" {
		return time.Local, nil
	}
	return time.LoadLocation(q.Location)
}

type Email struct {
	Enabled     bool   `json:"enabled"`
	APIKey      string `json:"api_key"`
	APIURL      string `json:"api_url"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	TimeoutMs   int64  `json:"timeout_ms"`
}

type Tracking struct {
	BaseURL         string `json:"base_url"`
	DefaultRedirect string `json:"default_redirect"`
	TrackClicks     bool   `json:"track_clicks"`
}

type Webhook struct {
	// bcrypt hash of the token expected in X-Webhook-Token, empty disables the check
	TokenHash string `json:"token_hash"`
}

func (db *Database) ToDSN() string {
	if db.DSN != "" {
		return db.DSN
	}

	switch db.Dialect {
	case DialectPostgres:
		sslMode := db.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			db.Host, db.Username, db.Password, db.Database, db.Port, sslMode)
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", db.Username, db.Password, db.Host, db.Port, db.Database)
	}
}

func NewConfig() *Config {
	return &Config{
		MetadataDB: Database{
			Dialect:             DialectMySQL,
			Username:            "",
			Password:            "",
			Host:                "127.0.0.1",
			Port:                3306,
			Database:            "outreach_db",
			ConnectRetrySeconds: 30,
		},
		SendQueue: SendQueue{
			MaxPerDay:              100,
			IntervalBetweenSendsMs: 30_000,
			MaxConcurrentSends:     1,
		},
		Email: Email{
			Enabled:     false,
			APIURL:      "https://api.brevo.com/v3/smtp/email",
			SenderEmail: "onboarding@example.com",
			SenderName:  "PR Team",
			TimeoutMs:   10_000,
		},
		Tracking: Tracking{
			BaseURL:         "http://localhost:9090",
			DefaultRedirect: "https://example.com",
			TrackClicks:     true,
		},
		CorsOrigins: []string{"*"},
	}
}

func (c *Config) Load(ctx context.Context, path string) error {
	if path == "" {
		log.Ctx(ctx).Warn().Msgf("empty config file")
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Ctx(ctx).Warn().Msgf("config file does not exist, file path: %s", path)
			return nil
		}
		return err
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			log.Ctx(ctx).Error().Msgf("config file close failed, file path: %s", path)
		}
	}(f)

	p := json.NewDecoder(f)
	if err := p.Decode(&c); err != nil {
		return err
	}

	return nil
}

// LoadEnv applies secrets that are usually kept out of the config file.
func (c *Config) LoadEnv() {
	if apiKey := os.Getenv("EMAIL_API_KEY"); apiKey != "" {
		c.Email.APIKey = apiKey
	}
	if enabled := os.Getenv("EMAIL_ENABLED"); enabled != "" {
		c.Email.Enabled = enabled == "true"
	}
	if sender := os.Getenv("FROM_EMAIL"); sender != "" {
		c.Email.SenderEmail = sender
	}
	if baseURL := os.Getenv("BACKEND_URL"); baseURL != "" {
		c.Tracking.BaseURL = baseURL
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.MetadataDB.DSN = dsn
	}
}
