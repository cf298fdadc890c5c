// Package config loads and validates the daemon's YAML configuration file.
//
// The shape mirrors the original AutoFilm config.yaml: a Settings block
// plus a list of Alist2Strm sources and an opaque list of Ani2Alist entries
// (that publisher is an out-of-scope collaborator, so its entries are kept
// only for validation/listing, never executed).
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Mode selects how a locator file's content is derived from a remote entry.
type Mode string

const (
	ModeLocatorPublicURL  Mode = "LocatorPublicURL"
	ModeLocatorOriginURL  Mode = "LocatorOriginURL"
	ModeLocatorRemotePath Mode = "LocatorRemotePath"

	defaultMaxWorkers     = 50
	defaultMaxDownloaders = 5
)

// Settings holds the top-level, non-source configuration.
type Settings struct {
	Dev            bool   `yaml:"DEV" env:"ALIST2STRM_DEV"`
	EnableAPI      bool   `yaml:"ENABLE_API" env:"ALIST2STRM_ENABLE_API"`
	APIHost        string `yaml:"API_HOST" env:"ALIST2STRM_API_HOST"`
	APIPort        int    `yaml:"API_PORT" env:"ALIST2STRM_API_PORT"`
	APIToken       string `yaml:"API_TOKEN" env:"ALIST2STRM_API_TOKEN"`
	WebhookToken   string `yaml:"WEBHOOK_TOKEN" env:"ALIST2STRM_WEBHOOK_TOKEN"`
	TelegramAPIKey string `yaml:"TELEGRAM_API_KEY" env:"ALIST2STRM_TELEGRAM_API_KEY"`
	TelegramUserID string `yaml:"TELEGRAM_USER_ID" env:"ALIST2STRM_TELEGRAM_USER_ID"`
}

// Credentials authenticates against the remote Alist-style server.
type Credentials struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// Source is one synchronizable mirror source (spec.md's SourceConfig).
type Source struct {
	ID            string `yaml:"id"`
	RemoteBaseURL string `yaml:"url"`
	Credentials   `yaml:",inline"`
	SourceDir     string `yaml:"source_dir"`

	TargetDir            string `yaml:"target_dir"`
	FlattenMode          bool   `yaml:"flatten_mode,omitempty"`
	Subtitle             bool   `yaml:"subtitle,omitempty"`
	Image                bool   `yaml:"image,omitempty"`
	NFO                  bool   `yaml:"nfo,omitempty"`
	Mode                 Mode   `yaml:"mode,omitempty"`
	Overwrite            bool   `yaml:"overwrite,omitempty"`
	OtherExts            string `yaml:"other_ext,omitempty"`
	MaxWorkers           int    `yaml:"max_workers,omitempty"`
	MaxDownloaders       int    `yaml:"max_downloaders,omitempty"`
	SyncServer           bool   `yaml:"sync_server,omitempty"`
	LocatorContentPrefix string `yaml:"strm_content_prefix,omitempty"`
	Cron                 string `yaml:"cron,omitempty"`
}

// Check validates one source and fills in defaults.
func (s *Source) Check() error {
	if s.ID == "" {
		return errors.New("source: id is not set")
	}
	if s.RemoteBaseURL == "" {
		return errors.New("source " + s.ID + ": url is not set")
	}
	if s.SourceDir == "" {
		s.SourceDir = "/"
	}
	if s.TargetDir == "" {
		return errors.New("source " + s.ID + ": target_dir is not set")
	}
	switch s.Mode {
	case "":
		s.Mode = ModeLocatorPublicURL
	case ModeLocatorPublicURL, ModeLocatorOriginURL, ModeLocatorRemotePath:
	default:
		return errors.New("source " + s.ID + ": unknown mode " + string(s.Mode))
	}
	if s.MaxWorkers <= 0 {
		s.MaxWorkers = defaultMaxWorkers
	}
	if s.MaxDownloaders <= 0 {
		s.MaxDownloaders = defaultMaxDownloaders
	}
	return nil
}

// Config is the top-level parsed config.yaml.
type Config struct {
	Settings       Settings         `yaml:"Settings"`
	Alist2StrmList []*Source        `yaml:"Alist2StrmList"`
	Ani2AlistList  []map[string]any `yaml:"Ani2AlistList"`
}

// New returns a Config with default Settings values applied.
func New() *Config {
	return &Config{
		Settings: Settings{
			APIHost:      "0.0.0.0",
			APIPort:      9001,
			APIToken:     "12345",
			WebhookToken: "12345",
		},
	}
}

// Load reads and parses the YAML file at path into a new Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is an operator-supplied configuration path
	if err != nil {
		return nil, errors.Wrap(err, "Load: "+path)
	}

	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "Load: parse "+path)
	}

	if err := cfg.ApplyEnvironmentVariables(); err != nil {
		return nil, errors.Wrap(err, "Load: env overrides")
	}

	if err := cfg.Check(); err != nil {
		return nil, errors.Wrap(err, "Load: validate "+path)
	}

	return cfg, nil
}

// Check validates the whole configuration, including every source.
func (c *Config) Check() error {
	seen := make(map[string]bool, len(c.Alist2StrmList))
	for _, src := range c.Alist2StrmList {
		if err := src.Check(); err != nil {
			return err
		}
		if seen[src.ID] {
			return errors.New("duplicate source id: " + src.ID)
		}
		seen[src.ID] = true
	}
	return nil
}

// Find returns the source with the given id, or nil.
func (c *Config) Find(id string) *Source {
	for _, src := range c.Alist2StrmList {
		if src.ID == id {
			return src
		}
	}
	return nil
}

// ApplyEnvironmentVariables overrides Settings fields from the environment,
// following the teacher's reflection-based "env" tag convention.
func (c *Config) ApplyEnvironmentVariables() error {
	return applyEnvToStruct(&c.Settings)
}

func applyEnvToStruct(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("applyEnvToStruct requires a pointer to struct")
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		if err := setFieldFromEnv(field, envTag); err != nil {
			return errors.New("failed to set field " + fieldType.Name + " from environment: " + err.Error())
		}
	}
	return nil
}

func setFieldFromEnv(field reflect.Value, envVar string) error {
	envValue := os.Getenv(envVar)
	if envValue == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int:
		intVal, err := strconv.Atoi(envValue)
		if err != nil {
			return errors.New("invalid integer value for " + envVar + ": " + envValue)
		}
		field.SetInt(int64(intVal))
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(envValue)
		if err != nil {
			return errors.New("invalid boolean value for " + envVar + ": " + envValue)
		}
		field.SetBool(boolVal)
	default:
		return errors.New("unsupported field type: " + field.Kind().String())
	}
	return nil
}

// LogFilePath returns the active log file path for the given base directory,
// switching name based on dev mode, matching the original AutoFilm behavior.
func (s Settings) LogFilePath(baseDir string) string {
	name := "AutoFilm.log"
	if s.Dev {
		name = "dev.log"
	}
	return filepath.Join(baseDir, "logs", name)
}
