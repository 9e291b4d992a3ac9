// Package config manages application configuration from a site file,
// environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "DOCSITE_"

	// SiteFile is looked up in the content root when no --config is given.
	SiteFile = "docsite.yaml"

	defaultTitle       = "docsite"
	defaultPluginName  = "paragraph-comment"
	defaultCommentLang = "en"
	defaultSession     = ".docsite-session.json"
)

// Site describes the published site.
type Site struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Lang        string `yaml:"lang"`
	BaseURL     string `yaml:"baseUrl"`
}

// Comments points at the Waline-compatible comment service.
type Comments struct {
	ServerURL string `yaml:"serverUrl"`
	Lang      string `yaml:"lang"`
}

// Enabled reports whether a comment server is configured.
func (c Comments) Enabled() bool {
	return c.ServerURL != ""
}

// Plugin configures the comment anchor extension.
type Plugin struct {
	Name string `yaml:"name"`
}

// Config holds runtime configuration for the server and the static build.
type Config struct {
	Site          Site     `yaml:"site"`
	Comments      Comments `yaml:"comments"`
	Plugin        Plugin   `yaml:"plugin"`
	RootDir       string   `yaml:"-"`
	StaticOutput  string   `yaml:"-"`
	AssetsDir     string   `yaml:"-"`
	ConfigFile    string   `yaml:"-"`
	SessionFile   string   `yaml:"sessionFile"`
	Port          int      `yaml:"-"`
	AutoOpen      bool     `yaml:"-"`
	DarkModeFirst bool     `yaml:"-"`
	Verbose       bool     `yaml:"-"`
}

// Default returns ready-to-use defaults prior to file/env/flag overrides.
// Site, comment and plugin fields stay empty so the site file can fill them.
func Default() Config {
	return Config{
		RootDir:       ".",
		Port:          0, // 0 = auto-select random available port
		AutoOpen:      true,
		DarkModeFirst: true,
		StaticOutput:  "dist",
		AssetsDir:     "static",
	}
}

// RegisterFlags attaches configuration flags to the provided FlagSet.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVarP(&cfg.RootDir, "root", "r", cfg.RootDir, "root directory containing markdown files")
	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "site configuration file (default: <root>/"+SiteFile+" when present)")
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to bind the HTTP server (0 = auto-assign)")
	fs.BoolVar(&cfg.AutoOpen, "auto-open", cfg.AutoOpen, "open the browser automatically after start")
	fs.BoolVar(&cfg.DarkModeFirst, "dark", cfg.DarkModeFirst, "enable dark theme by default")
	fs.StringVar(&cfg.StaticOutput, "out", cfg.StaticOutput, "output directory for the static build")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "directory containing built frontend assets")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging (HTTP requests)")
	fs.StringVar(&cfg.Site.Title, "title", cfg.Site.Title, "site title")
	fs.StringVar(&cfg.Site.BaseURL, "base-url", cfg.Site.BaseURL, "absolute base URL for canonical links")
	fs.StringVar(&cfg.Comments.ServerURL, "comment-server", cfg.Comments.ServerURL, "Waline-compatible comment server URL (empty disables comments)")
	fs.StringVar(&cfg.Comments.Lang, "comment-lang", cfg.Comments.Lang, "language passed to the comment client")
	fs.StringVar(&cfg.Plugin.Name, "plugin-name", cfg.Plugin.Name, "name of the comment anchor extension")
	fs.StringVar(&cfg.SessionFile, "session-file", cfg.SessionFile, "file storing the comment service login")
}

// ApplyEnvOverrides reads supported environment variables and overrides cfg in place.
func ApplyEnvOverrides(cfg *Config) {
	applyStringEnv("ROOT", func(v string) { cfg.RootDir = v })
	applyStringEnv("CONFIG", func(v string) { cfg.ConfigFile = v })
	applyIntEnv("PORT", func(v int) { cfg.Port = v })
	applyBoolEnv("AUTO_OPEN", func(v bool) { cfg.AutoOpen = v })
	applyBoolEnv("DARK", func(v bool) { cfg.DarkModeFirst = v })
	applyStringEnv("OUT", func(v string) { cfg.StaticOutput = v })
	applyStringEnv("ASSETS", func(v string) { cfg.AssetsDir = v })
	applyBoolEnv("VERBOSE", func(v bool) { cfg.Verbose = v })
	applyStringEnv("TITLE", func(v string) { cfg.Site.Title = v })
	applyStringEnv("BASE_URL", func(v string) { cfg.Site.BaseURL = v })
	applyStringEnv("COMMENT_SERVER", func(v string) { cfg.Comments.ServerURL = v })
	applyStringEnv("COMMENT_LANG", func(v string) { cfg.Comments.Lang = v })
	applyStringEnv("PLUGIN_NAME", func(v string) { cfg.Plugin.Name = v })
	applyStringEnv("SESSION_FILE", func(v string) { cfg.SessionFile = v })
}

func applyStringEnv(key string, apply func(string)) {
	if raw, ok := lookupNonEmpty(key); ok {
		apply(raw)
	}
}

func applyIntEnv(key string, apply func(int)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.Atoi(raw); err == nil {
			apply(value)
		}
	}
}

func applyBoolEnv(key string, apply func(bool)) {
	if raw, ok := lookupNonEmpty(key); ok {
		if value, err := strconv.ParseBool(raw); err == nil {
			apply(value)
		}
	}
}

func lookupNonEmpty(key string) (string, bool) {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}
	return value, true
}

// LoadFile reads a YAML site file and fills every field of cfg that env and
// flags left empty. A missing file is only an error when explicit is true.
func LoadFile(cfg *Config, path string, explicit bool) error {
	raw, err := os.ReadFile(path) //nolint:gosec // path chosen by the operator
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fill(&cfg.Site.Title, file.Site.Title)
	fill(&cfg.Site.Description, file.Site.Description)
	fill(&cfg.Site.Lang, file.Site.Lang)
	fill(&cfg.Site.BaseURL, file.Site.BaseURL)
	fill(&cfg.Comments.ServerURL, file.Comments.ServerURL)
	fill(&cfg.Comments.Lang, file.Comments.Lang)
	fill(&cfg.Plugin.Name, file.Plugin.Name)
	fill(&cfg.SessionFile, file.SessionFile)
	return nil
}

func fill(dst *string, value string) {
	if *dst == "" {
		*dst = strings.TrimSpace(value)
	}
}

// Finalize loads the site file, applies defaults, normalizes paths and
// validates the result.
func Finalize(cfg *Config) error {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return fmt.Errorf("resolve root directory: %w", err)
	}
	cfg.RootDir = root

	explicit := cfg.ConfigFile != ""
	if !explicit {
		cfg.ConfigFile = filepath.Join(root, SiteFile)
	}
	if err := LoadFile(cfg, cfg.ConfigFile, explicit); err != nil {
		return err
	}

	fill(&cfg.Site.Title, defaultTitle)
	fill(&cfg.Site.Lang, "en")
	fill(&cfg.Comments.Lang, defaultCommentLang)
	fill(&cfg.Plugin.Name, defaultPluginName)
	fill(&cfg.SessionFile, filepath.Join(root, defaultSession))
	fill(&cfg.StaticOutput, "dist")
	fill(&cfg.AssetsDir, "static")
	cfg.Site.BaseURL = strings.TrimRight(cfg.Site.BaseURL, "/")
	cfg.Comments.ServerURL = strings.TrimRight(cfg.Comments.ServerURL, "/")

	assets, err := filepath.Abs(cfg.AssetsDir)
	if err != nil {
		return fmt.Errorf("resolve assets directory: %w", err)
	}
	cfg.AssetsDir = assets

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

var (
	pluginNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	langPattern       = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]+)*$`)
)

// Validate checks field ranges and formats.
func (cfg Config) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.RootDir, validation.Required),
		// Port 0 asks the OS for a free port.
		validation.Field(&cfg.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&cfg.Site),
		validation.Field(&cfg.Comments),
		validation.Field(&cfg.Plugin),
	)
}

// Validate implements validation.Validatable.
func (s Site) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Title, validation.Required),
		validation.Field(&s.BaseURL, is.URL),
		validation.Field(&s.Lang, validation.Match(langPattern)),
	)
}

// Validate implements validation.Validatable.
func (c Comments) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServerURL, is.URL),
		validation.Field(&c.Lang, validation.Match(langPattern)),
	)
}

// Validate implements validation.Validatable.
func (p Plugin) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Match(pluginNamePattern)),
	)
}
