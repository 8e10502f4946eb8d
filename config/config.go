// Package config manages the YAML configuration file shared by binaries
// that embed the go-mail stack.
//
// A Settings value aggregates the configuration of every subsystem. Read
// loads it from disk, overlays the SMTP_* and IMAP_* environment variables
// and validates the result; when no file exists yet, one is written with the
// defaults first. Watch hot-reloads the file on change and notifies the
// registered OnChange handlers.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/flag"
	"github.com/tasknest/go-mail/imap"
	"github.com/tasknest/go-mail/logging"
	"github.com/tasknest/go-mail/smtp"
)

var logger = logging.GetPackageLogger("config")

// OutboxConfig holds the delivery worker settings.
type OutboxConfig struct {
	// Workers is the number of concurrent delivery workers
	Workers int `yaml:"workers"`
	// MaxAttempts is the per-delivery attempt budget
	MaxAttempts int `yaml:"max_attempts"`
	// RetryDelay is the base delay before the first retry
	RetryDelay time.Duration `yaml:"retry_delay"`
	// RetryBackoff is the backoff multiplier applied per attempt
	RetryBackoff float64 `yaml:"retry_backoff"`
	// RatePerSecond caps the send rate; zero means unlimited
	RatePerSecond float64 `yaml:"rate_per_second"`
	// RateBurst is the burst size of the rate limiter
	RateBurst int `yaml:"rate_burst"`
	// RedisAddr selects the Redis queue backend when set
	RedisAddr string `yaml:"redis_addr"`
	// RabbitMQURL selects the RabbitMQ queue backend when set
	RabbitMQURL string `yaml:"rabbitmq_url"`
}

// Settings aggregates the configuration of every subsystem.
type Settings struct {
	SMTP    smtp.Config        `yaml:"smtp"`
	IMAP    imap.Config        `yaml:"imap"`
	Outbox  OutboxConfig       `yaml:"outbox"`
	Logging logging.FileConfig `yaml:"logging"`
}

// Validate checks every subsystem configuration.
func (s *Settings) Validate() error {
	err := s.SMTP.Validate()
	if err != nil {
		return apperror.Wrap(err)
	}
	err = s.IMAP.Validate()
	if err != nil {
		return apperror.Wrap(err)
	}
	if s.Outbox.Workers < 0 {
		return apperror.NewError("outbox workers must not be negative")
	}
	return nil
}

// Default returns the settings used when no configuration file exists.
func Default() Settings {
	return Settings{
		SMTP: smtp.DefaultConfig(),
		IMAP: imap.DefaultConfig(),
		Outbox: OutboxConfig{
			Workers:      1,
			MaxAttempts:  3,
			RetryDelay:   2 * time.Second,
			RetryBackoff: 2.0,
		},
	}
}

var (
	mutex      sync.RWMutex
	current    = Default()
	path       string
	onChange   []func(o, n Settings) error
	watcher    *fsnotify.Watcher
	lastChange atomic.Int64
)

// Get returns a copy of the current settings.
func Get() Settings {
	mutex.RLock()
	defer mutex.RUnlock()
	return current
}

// OnChange registers a handler called with the old and new settings after
// every successful Read.
func OnChange(f func(o, n Settings) error) {
	mutex.Lock()
	defer mutex.Unlock()
	onChange = append(onChange, f)
}

// Read loads the configuration file, overlays the environment variables and
// applies the result. The path comes from the --config flag unless WithPath
// was called; a missing file is created with the defaults first.
func Read() error {
	mutex.Lock()
	if path == "" {
		path = flag.ConfigPath
	}
	if path == "" {
		path = "config.yaml"
	}
	file := path
	mutex.Unlock()

	_, err := os.Stat(file)
	if os.IsNotExist(err) {
		err = Write(Default())
		if err != nil {
			return apperror.NewError("writing default configuration file failed").AddError(err)
		}
	}

	data, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return apperror.NewError("reading configuration file failed").AddError(err)
	}

	change := Default()
	err = yaml.Unmarshal(data, &change)
	if err != nil {
		return apperror.NewError("unmarshalling configuration file failed").AddError(err)
	}

	overlayEnv(&change)

	err = change.Validate()
	if err != nil {
		return apperror.Wrap(err)
	}

	mutex.Lock()
	old := current
	current = change
	handlers := append([]func(o, n Settings) error(nil), onChange...)
	mutex.Unlock()

	for _, f := range handlers {
		err = f(old, change)
		if err != nil {
			return apperror.Wrap(err)
		}
	}
	return nil
}

// Write validates the settings and writes them to the configuration file.
// It does not trigger OnChange handlers; those fire on the next Read.
func Write(settings Settings) error {
	err := settings.Validate()
	if err != nil {
		return apperror.Wrap(err)
	}

	mutex.Lock()
	if path == "" {
		path = flag.ConfigPath
	}
	if path == "" {
		path = "config.yaml"
	}
	file := path
	mutex.Unlock()

	err = os.MkdirAll(filepath.Dir(file), 0750)
	if err != nil {
		return apperror.NewError("creating configuration directory failed").AddError(err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return apperror.NewError("marshalling configuration data failed").AddError(err)
	}

	err = os.WriteFile(filepath.Clean(file), data, 0600)
	if err != nil {
		return apperror.NewError("writing configuration file failed").AddError(err)
	}
	return nil
}

// WithPath overrides the configuration file path. It must be called before
// the first Read or Write.
func WithPath(p string) {
	mutex.Lock()
	defer mutex.Unlock()
	path = p
}

// Watch watches the configuration file and re-reads it on change. Changes
// within one second of each other are coalesced to avoid double reads when
// editors save via rename.
func Watch() error {
	mutex.Lock()
	file := path
	mutex.Unlock()
	if file == "" {
		return apperror.NewError("configuration path must be set before watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperror.NewError("creating config watcher failed").AddError(err)
	}

	err = w.Add(filepath.Dir(file))
	if err != nil {
		apperror.Catch(w.Close, "failed to close config watcher")
		return apperror.NewError("watching configuration directory failed").AddError(err)
	}

	mutex.Lock()
	watcher = w
	mutex.Unlock()

	go func() {
		for event := range w.Events {
			if filepath.Clean(event.Name) != filepath.Clean(file) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Now().UnixMilli()-lastChange.Load() < 1000 {
				continue
			}
			lastChange.Store(time.Now().UnixMilli())

			err := Read()
			if err != nil {
				logger.Error().Err(err).Msg("failed to reload configuration")
			}
		}
	}()
	return nil
}

// Reset clears the package state. Mainly useful in tests.
func Reset() {
	mutex.Lock()
	defer mutex.Unlock()

	if watcher != nil {
		apperror.Catch(watcher.Close, "failed to close config watcher")
		watcher = nil
	}
	current = Default()
	path = ""
	onChange = nil
}

// Changed reports whether two settings values differ.
func Changed(o, n Settings) bool {
	return !reflect.DeepEqual(o, n)
}

// overlayEnv lets environment variables override the file: any SMTP_* or
// IMAP_* variable that is set wins over the corresponding file value.
func overlayEnv(settings *Settings) {
	fromEnv := smtp.FromEnv()
	defaults := smtp.DefaultConfig()
	if fromEnv.Host != defaults.Host {
		settings.SMTP.Host = fromEnv.Host
	}
	if fromEnv.Port != defaults.Port {
		settings.SMTP.Port = fromEnv.Port
	}
	if os.Getenv("SMTP_SECURE") != "" {
		settings.SMTP.Secure = fromEnv.Secure
	}
	if fromEnv.Username != "" {
		settings.SMTP.Username = fromEnv.Username
	}
	if fromEnv.Password != "" {
		settings.SMTP.Password = fromEnv.Password
	}
	if fromEnv.FromName != "" {
		settings.SMTP.FromName = fromEnv.FromName
	}
	if fromEnv.FromAddress != defaults.FromAddress {
		settings.SMTP.FromAddress = fromEnv.FromAddress
	}

	imapEnv := imap.FromEnv()
	imapDefaults := imap.DefaultConfig()
	if imapEnv.Host != imapDefaults.Host {
		settings.IMAP.Host = imapEnv.Host
	}
	if imapEnv.Port != imapDefaults.Port {
		settings.IMAP.Port = imapEnv.Port
	}
	if os.Getenv("IMAP_SECURE") != "" {
		settings.IMAP.Secure = imapEnv.Secure
	}
	if imapEnv.Username != "" {
		settings.IMAP.Username = imapEnv.Username
	}
	if imapEnv.Password != "" {
		settings.IMAP.Password = imapEnv.Password
	}
	if os.Getenv("IMAP_DEBUG") != "" {
		settings.IMAP.Debug = imapEnv.Debug
	}
	if len(imapEnv.AllowedRecipients) > 0 {
		settings.IMAP.AllowedRecipients = imapEnv.AllowedRecipients
	}
}
