package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Pinata contains configuration for the primary pinning backend.
type Pinata struct {
	JWT        string `toml:"jwt"`
	APIBaseURL string `toml:"api_base_url"`
	UploadURL  string `toml:"upload_url"`
}

// IPFS contains configuration for the secondary self-hosted backend.
type IPFS struct {
	APIURL     string `toml:"api_url"`
	GatewayURL string `toml:"gateway_url"`
}

// Transcode contains policy knobs for the local transcode pipeline.
type Transcode struct {
	SkipMaxMiB        int `toml:"skip_max_mib"`
	MaxHeight         int `toml:"max_height"`
	CRF               int `toml:"crf"`
	TimeoutSeconds    int `toml:"timeout_seconds"`
	HLSSegmentSeconds int `toml:"hls_segment_seconds"`
	HLSTimeoutSeconds int `toml:"hls_timeout_seconds"`
}

// Download contains configuration for remote-URL intake.
type Download struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Provider contains configuration for the cloud transcoding provider.
type Provider struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	WebhookBaseURL  string `toml:"webhook_base_url"`
	SegmentSeconds  int    `toml:"segment_seconds"`
	RequestTimeout  int    `toml:"request_timeout"`
	DownloadTimeout int    `toml:"download_timeout"`
}

// Jobs contains configuration for the transcode job store and listings.
type Jobs struct {
	ListLimit int `toml:"list_limit"`
}

// Wiki contains configuration for the side-channel wiki client.
type Wiki struct {
	APIURL   string `toml:"api_url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// CORS contains the allowed browser origins for the HTTP API.
type CORS struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Pinata    Pinata    `toml:"pinata"`
	IPFS      IPFS      `toml:"ipfs"`
	Transcode Transcode `toml:"transcode"`
	Download  Download  `toml:"download"`
	Provider  Provider  `toml:"provider"`
	Jobs      Jobs      `toml:"jobs"`
	Wiki      Wiki      `toml:"wiki"`
	CORS      CORS      `toml:"cors"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath is the location consulted when no explicit path is given.
func DefaultConfigPath() string {
	return "~/.config/trestle/config.toml"
}

// Load reads configuration from path (or the default location when path is
// empty), applies defaults, expands home-relative paths, and validates the
// result. The second return value reports whether a config file was found.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = DefaultConfigPath()
	}
	expanded, err := expandPath(candidate)
	if err != nil {
		return nil, false, fmt.Errorf("expand config path: %w", err)
	}

	found := true
	data, err := os.ReadFile(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			found = false
		} else {
			return nil, false, fmt.Errorf("read config: %w", err)
		}
	}
	if found {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, found, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return &cfg, found, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the staging and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("expand staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("expand log_dir: %w", err)
	}
	c.Pinata.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Pinata.APIBaseURL), "/")
	c.Pinata.UploadURL = strings.TrimRight(strings.TrimSpace(c.Pinata.UploadURL), "/")
	c.IPFS.APIURL = strings.TrimRight(strings.TrimSpace(c.IPFS.APIURL), "/")
	c.IPFS.GatewayURL = strings.TrimRight(strings.TrimSpace(c.IPFS.GatewayURL), "/")
	c.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.BaseURL), "/")
	c.Provider.WebhookBaseURL = strings.TrimRight(strings.TrimSpace(c.Provider.WebhookBaseURL), "/")
	c.Wiki.APIURL = strings.TrimSpace(c.Wiki.APIURL)
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Clean(trimmed), nil
}
