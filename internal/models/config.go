package models

import "time"

// Config represents the application configuration
type Config struct {
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Transport TransportConfig `yaml:"transport"`
	Store     StoreConfig     `yaml:"store"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Sync      SyncConfig      `yaml:"sync"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Auth      AuthConfig      `yaml:"auth"`
	HTTP      HTTPConfig      `yaml:"http"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// MailboxConfig represents the remote mailbox to pull from
type MailboxConfig struct {
	Protocol           string `yaml:"protocol"` // imap or pop3
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Mailbox            string `yaml:"mailbox"`
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// TransportConfig bounds every network call against the mailbox
type TransportConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig represents the record store connection
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WatermarkConfig selects where the watermark lives
type WatermarkConfig struct {
	Backend        string `yaml:"backend"` // store or dynamodb
	Key            string `yaml:"key"`
	DynamoDBTable  string `yaml:"dynamodbTable"`
	DynamoDBRegion string `yaml:"dynamodbRegion"`
}

// SyncConfig represents the per-pass policy
type SyncConfig struct {
	MaxPerPass      int           `yaml:"maxPerPass"`
	Disposition     string        `yaml:"disposition"` // delete | move:<mailbox> | flag:<name>
	Mode            string        `yaml:"mode"`        // since-watermark | explicit-ids | full-scan-capped
	InitialLookback time.Duration `yaml:"initialLookback"`
	BodyMaxLength   int           `yaml:"bodyMaxLength"`
	SourceTag       string        `yaml:"sourceTag"`
	PassTimeout     time.Duration `yaml:"passTimeout"`
	RefreshTime     time.Duration `yaml:"refreshTime"`
}

// NormalizeConfig holds the sentinel values for unparseable fields
type NormalizeConfig struct {
	UnknownSender string `yaml:"unknownSender"`
	NoSubject     string `yaml:"noSubject"`
}

// AuthConfig represents the invocation credential check
type AuthConfig struct {
	Mode   string `yaml:"mode"` // static or jwt
	Token  string `yaml:"token"`
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// HTTPConfig represents the HTTP trigger
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// EventsConfig represents the optional NATS notification of stored records
type EventsConfig struct {
	NatsURL string `yaml:"natsUrl"`
	Subject string `yaml:"subject"`
	Stream  string `yaml:"stream"`
}

// LogConfig represents logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
