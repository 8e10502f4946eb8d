package smtp

import (
	"crypto/tls"
	"os"
	"strconv"
	"time"

	"github.com/tasknest/go-mail/apperror"
)

// Config holds the SMTP client configuration. It is immutable per
// connection: supplied at construction and never mutated.
type Config struct {
	// Host is the SMTP server hostname
	Host string `yaml:"host"`
	// Port is the SMTP server port
	Port int `yaml:"port"`
	// Secure enables implicit TLS for the initial connection. When false the
	// client still upgrades opportunistically via STARTTLS if advertised.
	Secure bool `yaml:"secure"`
	// Username for authentication; authentication is skipped when empty
	Username string `yaml:"username"`
	// Password for authentication
	Password string `yaml:"password"`
	// FromName is the display name used for the default sender
	FromName string `yaml:"from_name"`
	// FromAddress is the default sender address
	FromAddress string `yaml:"from_address"`
	// FQDN is the hostname announced in EHLO
	FQDN string `yaml:"fqdn"`
	// AuthMethod selects the SASL mechanism (LOGIN, PLAIN, CRAMMD5)
	AuthMethod string `yaml:"auth_method"`
	// Timeout bounds each command/response exchange
	Timeout time.Duration `yaml:"timeout"`
	// SkipCertificateVerification disables TLS certificate verification
	SkipCertificateVerification bool `yaml:"skip_cert_verification"`
}

// DefaultConfig returns the default SMTP client configuration.
func DefaultConfig() Config {
	return Config{
		Host:       "localhost",
		Port:       587,
		FQDN:       "localhost",
		AuthMethod: "LOGIN",
		Timeout:    30 * time.Second,
	}
}

// FromEnv builds a configuration from the SMTP_* environment variables,
// falling back to defaults for anything unset: SMTP_HOST (localhost),
// SMTP_PORT (587), SMTP_SECURE (false), SMTP_USER, SMTP_PASS,
// SMTP_FROM_NAME, SMTP_FROM_EMAIL.
func FromEnv() Config {
	config := DefaultConfig()
	if host := os.Getenv("SMTP_HOST"); host != "" {
		config.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && port > 0 {
		config.Port = port
	}
	config.Secure = envBool("SMTP_SECURE")
	config.Username = os.Getenv("SMTP_USER")
	config.Password = os.Getenv("SMTP_PASS")
	config.FromName = os.Getenv("SMTP_FROM_NAME")
	if from := os.Getenv("SMTP_FROM_EMAIL"); from != "" {
		config.FromAddress = from
	}
	return config
}

// From returns the default sender in "Name <addr>" form when a display name
// is configured, otherwise the bare address.
func (c *Config) From() string {
	if c.FromName != "" && c.FromAddress != "" {
		return c.FromName + " <" + c.FromAddress + ">"
	}
	return c.FromAddress
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return apperror.NewError("SMTP host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return apperror.NewError("SMTP port must be between 1 and 65535")
	}
	if c.Username != "" && c.Password == "" {
		return apperror.NewError("SMTP password is required when a username is set")
	}
	return nil
}

// TLSConfig returns the TLS configuration used for implicit TLS and the
// STARTTLS upgrade.
func (c *Config) TLSConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.Host,
		InsecureSkipVerify: c.SkipCertificateVerification,
		MinVersion:         tls.VersionTLS12,
	}
}

func envBool(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "True", "yes":
		return true
	}
	return false
}
