package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	DatabaseURL   string `long:"database-url" env:"DATABASE_URL" description:"Postgres DSN; when empty the sqlite file is used"`
	SqliteDB      string `long:"sqlite-db" env:"SQLITE_DB" default:"tierpress.db" description:"SQLite database file"`
	SessionSecret string `long:"session-secret" env:"SESSION_SECRET" description:"Cookie session secret (required)" required:"true"`
	AppOrigin     string `long:"app-origin" env:"APP_ORIGIN" default:"http://localhost:8080" description:"Origin accepted on state-changing API calls"`
	Domain        string `long:"domain" env:"DOMAIN" default:"localhost" description:"Base domain for publication subdomains"`
	AdminEmails   string `long:"admin-emails" env:"ADMIN_EMAILS" description:"Comma separated platform admin e-mails"`
	RedisURL      string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the shared rate-limit store (optional)"`
	PolicyFile    string `long:"policy-file" env:"POLICY_FILE" description:"YAML file overriding the moderation term lists"`

	SweepInterval int `long:"sweep-interval" env:"SWEEP_INTERVAL" default:"0" description:"Seconds between scheduled moderation sweeps, 0 disables"`
	SweepCap      int `long:"sweep-cap" env:"SWEEP_CAP" default:"500" description:"Maximum posts scanned per sweep"`

	SMTPHost     string `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host; mail is disabled when empty"`
	SMTPPort     string `long:"smtp-port" env:"SMTP_PORT" default:"587" description:"SMTP port"`
	SMTPUser     string `long:"smtp-user" env:"SMTP_USER" description:"SMTP user"`
	SMTPPassword string `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
	SMTPFrom     string `long:"smtp-from" env:"SMTP_FROM" default:"no-reply@localhost" description:"Sender address"`

	BillingWebhookSecret string `long:"billing-webhook-secret" env:"BILLING_WEBHOOK_SECRET" description:"Shared secret for billing callbacks"`

	Debug bool `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load reads .env (when present), then flags and environment. It returns
// (nil, nil) when --help was requested.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.AppOrigin = strings.TrimSuffix(cfg.AppOrigin, "/")
	return &cfg, nil
}

func (c *Config) AdminEmailList() []string {
	var emails []string
	for _, e := range strings.Split(c.AdminEmails, ",") {
		if e = strings.TrimSpace(e); e != "" {
			emails = append(emails, strings.ToLower(e))
		}
	}
	return emails
}

func (c *Config) SweepEvery() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}
