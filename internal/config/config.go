package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"emails-sync/internal/models"
	"emails-sync/internal/policy"
	"emails-sync/internal/syncerr"

	"gopkg.in/yaml.v2"
)

const (
	ProtocolIMAP = "imap"
	ProtocolPOP3 = "pop3"

	BackendStore    = "store"
	BackendDynamoDB = "dynamodb"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the configuration from the specified YAML file, expands ${VAR}
// references from the environment, applies defaults and validates the result
func Load(filepath string) (*models.Config, error) {
	configFile, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	return Parse(configFile)
}

// Parse is Load without the file read
func Parse(data []byte) (*models.Config, error) {
	expanded := envRef.ReplaceAllStringFunc(string(data), func(ref string) string {
		return os.Getenv(envRef.FindStringSubmatch(ref)[1])
	})

	var config models.Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, err
	}

	ApplyDefaults(&config)
	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ApplyDefaults fills every unset optional setting
func ApplyDefaults(cfg *models.Config) {
	mb := &cfg.Mailbox
	mb.Protocol = strings.ToLower(strings.TrimSpace(mb.Protocol))
	if mb.Protocol == "" {
		mb.Protocol = ProtocolIMAP
	}
	if mb.Port == 0 {
		mb.Port = defaultPort(mb.Protocol, mb.TLS)
	}
	if mb.Mailbox == "" {
		mb.Mailbox = "INBOX"
	}

	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 30 * time.Second
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "emails-sync.db"
	}

	if cfg.Watermark.Backend == "" {
		cfg.Watermark.Backend = BackendStore
	}
	if cfg.Watermark.Key == "" {
		cfg.Watermark.Key = fmt.Sprintf("%s://%s@%s/%s", mb.Protocol, mb.Username, mb.Host, mb.Mailbox)
	}

	s := &cfg.Sync
	if s.MaxPerPass == 0 {
		s.MaxPerPass = policy.DefaultMaxPerPass
	}
	if s.Mode == "" {
		s.Mode = string(policy.ModeSinceWatermark)
	}
	if s.Disposition == "" {
		if mb.Protocol == ProtocolPOP3 {
			s.Disposition = string(policy.ActionDelete)
		} else {
			s.Disposition = `flag:\Seen`
		}
	}
	if s.InitialLookback == 0 {
		s.InitialLookback = 24 * time.Hour
	}
	if s.BodyMaxLength == 0 {
		s.BodyMaxLength = 5000
	}
	if s.SourceTag == "" {
		s.SourceTag = mb.Protocol
	}
	if s.PassTimeout == 0 {
		s.PassTimeout = 5 * time.Minute
	}
	if s.RefreshTime == 0 {
		s.RefreshTime = time.Minute
	}

	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = "static"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "emails.stored"
	}
	if cfg.Events.Stream == "" {
		cfg.Events.Stream = "EMAILS"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func defaultPort(protocol string, useTLS bool) int {
	switch {
	case protocol == ProtocolPOP3 && useTLS:
		return 995
	case protocol == ProtocolPOP3:
		return 110
	case useTLS:
		return 993
	}
	return 143
}

// Validate rejects a configuration no pass could run with. It never connects anywhere.
func Validate(cfg *models.Config) error {
	mb := cfg.Mailbox
	switch mb.Protocol {
	case ProtocolIMAP, ProtocolPOP3:
	default:
		return &syncerr.ConfigError{Field: "mailbox.protocol", Message: fmt.Sprintf("unknown protocol %q (want imap or pop3)", mb.Protocol)}
	}
	if strings.TrimSpace(mb.Host) == "" {
		return &syncerr.ConfigError{Field: "mailbox.host", Message: "required"}
	}
	if strings.TrimSpace(mb.Username) == "" {
		return &syncerr.ConfigError{Field: "mailbox.username", Message: "required"}
	}
	if mb.Port < 1 || mb.Port > 65535 {
		return &syncerr.ConfigError{Field: "mailbox.port", Message: fmt.Sprintf("%d is out of range", mb.Port)}
	}

	if cfg.Transport.Timeout < 0 {
		return &syncerr.ConfigError{Field: "transport.timeout", Message: "must be positive"}
	}

	if cfg.Store.Driver != "sqlite" {
		return &syncerr.ConfigError{Field: "store.driver", Message: fmt.Sprintf("unsupported driver %q (want sqlite)", cfg.Store.Driver)}
	}

	switch cfg.Watermark.Backend {
	case BackendStore:
	case BackendDynamoDB:
		if cfg.Watermark.DynamoDBTable == "" {
			return &syncerr.ConfigError{Field: "watermark.dynamodbTable", Message: "required for the dynamodb backend"}
		}
		if cfg.Watermark.DynamoDBRegion == "" {
			return &syncerr.ConfigError{Field: "watermark.dynamodbRegion", Message: "required for the dynamodb backend"}
		}
	default:
		return &syncerr.ConfigError{Field: "watermark.backend", Message: fmt.Sprintf("unknown backend %q (want store or dynamodb)", cfg.Watermark.Backend)}
	}

	if _, err := PolicyFrom(cfg); err != nil {
		return err
	}
	if cfg.Sync.BodyMaxLength < 0 {
		return &syncerr.ConfigError{Field: "sync.bodyMaxLength", Message: "must be positive"}
	}

	switch cfg.Auth.Mode {
	case "static", "jwt":
	default:
		return &syncerr.ConfigError{Field: "auth.mode", Message: fmt.Sprintf("unknown mode %q (want static or jwt)", cfg.Auth.Mode)}
	}

	return nil
}

// PolicyFrom builds the selection and disposition policy from the sync settings
func PolicyFrom(cfg *models.Config) (policy.Policy, error) {
	mode, err := policy.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return policy.Policy{}, &syncerr.ConfigError{Field: "sync.mode", Message: err.Error()}
	}
	d, err := policy.ParseDisposition(cfg.Sync.Disposition)
	if err != nil {
		return policy.Policy{}, &syncerr.ConfigError{Field: "sync.disposition", Message: err.Error()}
	}
	if cfg.Sync.MaxPerPass < 0 {
		return policy.Policy{}, &syncerr.ConfigError{Field: "sync.maxPerPass", Message: "must be positive"}
	}
	if cfg.Sync.InitialLookback < 0 {
		return policy.Policy{}, &syncerr.ConfigError{Field: "sync.initialLookback", Message: "must be positive"}
	}

	return policy.Policy{
		Mode:            mode,
		Disposition:     d,
		MaxPerPass:      cfg.Sync.MaxPerPass,
		InitialLookback: cfg.Sync.InitialLookback,
	}, nil
}
