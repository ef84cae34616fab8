package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds application configuration loaded from environment variables
// Provide sane defaults for local development.
type Config struct {
	AppName  string
	Env      string // development, staging, production
	LogLevel string // empty means the env default
	Port     string
	GinMode  string

	// Redis (rate limiting of the email form)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CORS
	CORSAllowedOrigins string // comma-separated

	// Client IP resolution; forwarding headers are ignored unless the peer
	// is a trusted proxy (comma-separated IPs/CIDRs)
	TrustedProxies  string
	TrustedPlatform string // cloudflare, google or empty

	// Mailgun
	MailgunDomain  string
	MailgunAPIKey  string
	MailgunSender  string
	MailgunAPIBase string // empty means the US endpoint

	// RabbitMQ
	Broker        Broker
	MQDialRetries uint64
	MQDialBackoff time.Duration
	MQAckMode     string // always, on_success, requeue

	// Email sending toggle; when false the worker only logs deliveries
	MailSendEnabled bool

	// Email form rate limit per client IP
	RateLimitPerMinute     int
	RateLimitBypassPrivate bool

	// HTTP access log toggle (Gin logger)
	HTTPLogEnabled bool
}

// Broker holds the connection parameters of the message broker and the queue
// the email service consumes from. It is passed explicitly to the dispatcher.
type Broker struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
	Queue    string

	// AutoDelete removes the queue from the broker when the consumer stops.
	AutoDelete bool
	// Blocking makes Start block until the consume loop ends.
	Blocking bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("invalid boolean for %s: %v, using default %v", key, err, def)
			return def
		}
		return b
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid int for %s: %v, using default %d", key, err, def)
			return def
		}
		return i
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using default %v", key, err, def)
			return def
		}
		return d
	}
	return def
}

// Load loads configuration from environment variables
func Load() *Config {
	retries := getint("MQ_DIAL_RETRIES", 0)
	if retries < 0 {
		retries = 0
	}
	return &Config{
		AppName:  getenv("APP_NAME", "emailme"),
		Env:      getenv("APP_ENV", "development"),
		LogLevel: getenv("LOG_LEVEL", ""),
		Port:     getenv("PORT", "8080"),
		GinMode:  getenv("GIN_MODE", "release"),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getint("REDIS_DB", 0),

		CORSAllowedOrigins: getenv("CORS_ALLOWED_ORIGINS", ""),

		TrustedProxies:  getenv("TRUSTED_PROXIES", ""),
		TrustedPlatform: getenv("TRUSTED_PLATFORM", ""),

		MailgunDomain:  getenv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey:  getenv("MAILGUN_API_KEY", ""),
		MailgunSender:  getenv("MAILGUN_SENDER", ""),
		MailgunAPIBase: getenv("MAILGUN_API_BASE", ""),

		Broker: Broker{
			Host:       getenv("MQ_HOST", "rabbitmq"),
			Port:       getint("MQ_PORT", 5672),
			Username:   getenv("MQ_USERNAME", "guest"),
			Password:   getenv("MQ_PASSWORD", "guest"),
			VHost:      getenv("MQ_VHOST", "/"),
			Queue:      getenv("EMAILME_EMAILSERVICE_QUEUE", "emailme_emailservice"),
			AutoDelete: getbool("MQ_AUTO_DELETE", true),
			Blocking:   getbool("MQ_BLOCKING", true),
		},
		MQDialRetries: uint64(retries),
		MQDialBackoff: getdur("MQ_DIAL_BACKOFF", 500*time.Millisecond),
		MQAckMode:     getenv("MQ_ACK_MODE", "always"),

		MailSendEnabled: getbool("MAIL_SEND_ENABLED", false),

		RateLimitPerMinute:     getint("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitBypassPrivate: getbool("RATE_LIMIT_BYPASS_PRIVATE", false),

		HTTPLogEnabled: getbool("HTTP_LOG_ENABLED", false),
	}
}

// Validate reports every invalid broker parameter at once.
func (b Broker) Validate() error {
	var errs []error
	if strings.TrimSpace(b.Host) == "" {
		errs = append(errs, errors.New("broker host is required"))
	}
	if b.Port < 1 || b.Port > 65535 {
		errs = append(errs, errors.New("broker port must be between 1 and 65535, got "+strconv.Itoa(b.Port)))
	}
	if strings.TrimSpace(b.Username) == "" {
		errs = append(errs, errors.New("broker username is required"))
	}
	if strings.TrimSpace(b.Queue) == "" {
		errs = append(errs, errors.New("queue name is required"))
	}
	return errors.Join(errs...)
}

// URL returns the AMQP URI for the broker, credentials included.
func (b Broker) URL() string {
	vhost := b.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     b.Host,
		Port:     b.Port,
		Username: b.Username,
		Password: b.Password,
		Vhost:    vhost,
	}.String()
}

// Addr returns host:port without credentials, for logs.
func (b Broker) Addr() string {
	return b.Host + ":" + strconv.Itoa(b.Port)
}

// MailgunConfigured reports whether all Mailgun settings are present.
func (c *Config) MailgunConfigured() bool {
	return c.MailgunDomain != "" && c.MailgunAPIKey != "" && c.MailgunSender != ""
}

// CORSOrigins returns the allowed origins as slice
func (c *Config) CORSOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxyList returns the trusted proxies as slice
func (c *Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}
