package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateBackends() error {
	if c.IPFS.APIURL == "" {
		return errors.New("ipfs.api_url must be set")
	}
	if _, err := url.Parse(c.IPFS.APIURL); err != nil {
		return fmt.Errorf("ipfs.api_url is not a valid URL: %w", err)
	}
	if c.IPFS.GatewayURL == "" {
		return errors.New("ipfs.gateway_url must be set")
	}
	if c.Pinata.APIBaseURL == "" {
		return errors.New("pinata.api_base_url must be set")
	}
	if c.Pinata.UploadURL == "" {
		return errors.New("pinata.upload_url must be set")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if c.Transcode.SkipMaxMiB <= 0 {
		return errors.New("transcode.skip_max_mib must be positive")
	}
	if c.Transcode.MaxHeight <= 0 {
		return errors.New("transcode.max_height must be positive")
	}
	if c.Transcode.CRF < 0 || c.Transcode.CRF > 63 {
		return errors.New("transcode.crf must be between 0 and 63")
	}
	if c.Transcode.TimeoutSeconds <= 0 {
		return errors.New("transcode.timeout_seconds must be positive")
	}
	if c.Transcode.HLSSegmentSeconds <= 0 {
		return errors.New("transcode.hls_segment_seconds must be positive")
	}
	if c.Transcode.HLSTimeoutSeconds <= 0 {
		return errors.New("transcode.hls_timeout_seconds must be positive")
	}
	if c.Download.TimeoutSeconds <= 0 {
		return errors.New("download.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateProvider() error {
	// The provider section is optional: when no API key is configured the
	// cloud-transcode intake is disabled and only local pipelines run.
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return nil
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url must be set when provider.api_key is configured")
	}
	if c.Provider.WebhookBaseURL == "" {
		return errors.New("provider.webhook_base_url must be set when provider.api_key is configured")
	}
	if c.Provider.SegmentSeconds <= 0 {
		return errors.New("provider.segment_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if c.Jobs.ListLimit <= 0 {
		return errors.New("jobs.list_limit must be positive")
	}
	return nil
}

// ProviderEnabled reports whether the cloud transcode intake is configured.
func (c *Config) ProviderEnabled() bool {
	return strings.TrimSpace(c.Provider.APIKey) != ""
}

// WikiEnabled reports whether the wiki side channel is configured.
func (c *Config) WikiEnabled() bool {
	return c.Wiki.APIURL != "" && c.Wiki.Username != "" && c.Wiki.Password != ""
}
