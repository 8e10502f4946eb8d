package imap

import (
	"crypto/tls"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tasknest/go-mail/apperror"
)

// Config holds the connection parameters of an IMAP account.
type Config struct {
	// Host is the IMAP server hostname or address
	Host string `yaml:"host"`
	// Port is the IMAP server port
	Port int `yaml:"port"`
	// Secure enables implicit TLS on connect; when false the connection
	// starts in plaintext and upgrades via STARTTLS if advertised
	Secure bool `yaml:"secure"`
	// Username is the login name
	Username string `yaml:"username"`
	// Password is the login password
	Password string `yaml:"password"`
	// Timeout bounds every command round trip
	Timeout time.Duration `yaml:"timeout"`
	// Debug enables wire-level logging of commands and replies
	Debug bool `yaml:"debug"`
	// AllowedRecipients restricts fetches to messages addressed to one
	// of these addresses; empty means no restriction
	AllowedRecipients []string `yaml:"allowed_recipients"`
	// SkipCertificateVerification disables TLS certificate checks
	SkipCertificateVerification bool `yaml:"skip_certificate_verification"`
}

// DefaultConfig returns a configuration with sensible defaults for an
// implicit-TLS connection to a local server.
func DefaultConfig() Config {
	return Config{
		Host:    "localhost",
		Port:    993,
		Secure:  true,
		Timeout: 60 * time.Second,
	}
}

// FromEnv builds a configuration from the IMAP_* environment variables,
// falling back to defaults for anything unset: IMAP_HOST (localhost),
// IMAP_PORT (993), IMAP_SECURE (true), IMAP_USER, IMAP_PASS, IMAP_DEBUG,
// IMAP_ALLOWED_RECIPIENTS (comma separated).
func FromEnv() Config {
	config := DefaultConfig()
	if host := os.Getenv("IMAP_HOST"); host != "" {
		config.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("IMAP_PORT")); err == nil && port > 0 {
		config.Port = port
	}
	if secure := os.Getenv("IMAP_SECURE"); secure != "" {
		config.Secure = envBool("IMAP_SECURE")
	}
	config.Username = os.Getenv("IMAP_USER")
	config.Password = os.Getenv("IMAP_PASS")
	config.Debug = envBool("IMAP_DEBUG")
	for _, addr := range strings.Split(os.Getenv("IMAP_ALLOWED_RECIPIENTS"), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			config.AllowedRecipients = append(config.AllowedRecipients, addr)
		}
	}
	return config
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return apperror.NewError("IMAP host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return apperror.NewError("IMAP port must be between 1 and 65535")
	}
	if c.Username != "" && c.Password == "" {
		return apperror.NewError("IMAP password is required when a username is set")
	}
	return nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
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
