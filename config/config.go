package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all library configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	DynamoDB  DynamoDBConfig
	Mongo     MongoConfig
	SurrealDB SurrealDBConfig
	Messaging MessagingConfig
	Email     EmailConfig
	SMS       SMSConfig
	Fax       FaxConfig
	JWT       JWTConfig
	Log       LogConfig
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds relational database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// DynamoDBConfig holds DynamoDB connection settings. Endpoint is only set
// for local stacks; empty means the SDK resolves the regional endpoint.
type DynamoDBConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	URI      string
	Database string
}

// SurrealDBConfig holds SurrealDB connection settings
type SurrealDBConfig struct {
	URL       string
	User      string
	Password  string
	Namespace string
	Database  string
}

// MessagingConfig holds change-notification transport settings
type MessagingConfig struct {
	Provider  string // sqs, rabbitmq, logging
	Region    string // for sqs
	QueueURL  string // for sqs
	AMQPURL   string // for rabbitmq
	QueueName string
}

// EmailConfig holds transactional email provider settings
type EmailConfig struct {
	Provider      string // ses, mailjet
	Region        string // for ses
	Sender        string
	MailjetKey    string
	MailjetSecret string
}

// SMSConfig holds text-message provider settings. Twilio accepts either a
// fixed sender number or a messaging service; at least one must be set.
type SMSConfig struct {
	Provider            string // twilio
	TwilioAccountSID    string
	TwilioAuthToken     string
	SenderNumber        string
	MessagingServiceSID string
}

// FaxConfig holds fax provider settings
type FaxConfig struct {
	Provider     string // ifax
	IFaxAPIKey   string
	SourceName   string
	SourceNumber string
}

// JWTConfig holds token signing settings
type JWTConfig struct {
	Secret                 string
	AccessTokenExpiration  time.Duration
	RefreshTokenExpiration time.Duration
	Issuer                 string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with VELLUM_ prefix (e.g., VELLUM_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("VELLUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		DynamoDB: DynamoDBConfig{
			Region:    v.GetString("dynamodb.region"),
			Endpoint:  v.GetString("dynamodb.endpoint"),
			AccessKey: v.GetString("dynamodb.access_key"),
			SecretKey: v.GetString("dynamodb.secret_key"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		SurrealDB: SurrealDBConfig{
			URL:       v.GetString("surrealdb.url"),
			User:      v.GetString("surrealdb.user"),
			Password:  v.GetString("surrealdb.password"),
			Namespace: v.GetString("surrealdb.namespace"),
			Database:  v.GetString("surrealdb.database"),
		},
		Messaging: MessagingConfig{
			Provider:  v.GetString("messaging.provider"),
			Region:    v.GetString("messaging.region"),
			QueueURL:  v.GetString("messaging.queue_url"),
			AMQPURL:   v.GetString("messaging.amqp_url"),
			QueueName: v.GetString("messaging.queue_name"),
		},
		Email: EmailConfig{
			Provider:      v.GetString("email.provider"),
			Region:        v.GetString("email.region"),
			Sender:        v.GetString("email.sender"),
			MailjetKey:    v.GetString("email.mailjet_key"),
			MailjetSecret: v.GetString("email.mailjet_secret"),
		},
		SMS: SMSConfig{
			Provider:            v.GetString("sms.provider"),
			TwilioAccountSID:    v.GetString("sms.twilio_account_sid"),
			TwilioAuthToken:     v.GetString("sms.twilio_auth_token"),
			SenderNumber:        v.GetString("sms.sender_number"),
			MessagingServiceSID: v.GetString("sms.messaging_service_sid"),
		},
		Fax: FaxConfig{
			Provider:     v.GetString("fax.provider"),
			IFaxAPIKey:   v.GetString("fax.ifax_api_key"),
			SourceName:   v.GetString("fax.source_name"),
			SourceNumber: v.GetString("fax.source_number"),
		},
		JWT: JWTConfig{
			Secret:                 v.GetString("jwt.secret"),
			AccessTokenExpiration:  v.GetDuration("jwt.access_token_expiration"),
			RefreshTokenExpiration: v.GetDuration("jwt.refresh_token_expiration"),
			Issuer:                 v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "vellum"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "vellum"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.DynamoDB.Region == "" {
		cfg.DynamoDB.Region = "us-east-1"
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "vellum"
	}
	if cfg.SurrealDB.URL == "" {
		cfg.SurrealDB.URL = "ws://localhost:8000/rpc"
	}
	if cfg.SurrealDB.Namespace == "" {
		cfg.SurrealDB.Namespace = "vellum"
	}
	if cfg.SurrealDB.Database == "" {
		cfg.SurrealDB.Database = "vellum"
	}
	if cfg.Messaging.Provider == "" {
		cfg.Messaging.Provider = "logging"
	}
	if cfg.Messaging.QueueName == "" {
		cfg.Messaging.QueueName = "entity-changes"
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = "ses"
	}
	if cfg.SMS.Provider == "" {
		cfg.SMS.Provider = "twilio"
	}
	if cfg.Fax.Provider == "" {
		cfg.Fax.Provider = "ifax"
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.JWT.RefreshTokenExpiration == 0 {
		cfg.JWT.RefreshTokenExpiration = 168 * time.Hour
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "vellum"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Messaging.Provider {
	case "sqs", "rabbitmq", "logging":
	default:
		return fmt.Errorf("messaging.provider must be one of sqs, rabbitmq, logging, got %q", c.Messaging.Provider)
	}
	switch c.Email.Provider {
	case "ses", "mailjet":
	default:
		return fmt.Errorf("email.provider must be one of ses, mailjet, got %q", c.Email.Provider)
	}
	switch c.SMS.Provider {
	case "twilio":
		if c.SMS.TwilioAccountSID != "" && c.SMS.SenderNumber == "" && c.SMS.MessagingServiceSID == "" {
			return fmt.Errorf("sms requires one of sms.sender_number or sms.messaging_service_sid")
		}
	default:
		return fmt.Errorf("sms.provider must be twilio, got %q", c.SMS.Provider)
	}
	switch c.Fax.Provider {
	case "ifax":
	default:
		return fmt.Errorf("fax.provider must be ifax, got %q", c.Fax.Provider)
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the host:port address for the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
