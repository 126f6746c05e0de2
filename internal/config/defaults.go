package config

const (
	defaultStagingDir         = "~/.local/share/trestle/staging"
	defaultLogDir             = "~/.local/share/trestle/logs"
	defaultAPIBind            = "0.0.0.0:3001"
	defaultPinataAPIBaseURL   = "https://api.pinata.cloud"
	defaultPinataUploadURL    = "https://uploads.pinata.cloud"
	defaultIPFSAPIURL         = "http://127.0.0.1:5001"
	defaultIPFSGatewayURL     = "https://ipfs.io"
	defaultSkipMaxMiB         = 50
	defaultMaxHeight          = 720
	defaultCRF                = 30
	defaultTranscodeTimeout   = 900
	defaultHLSSegmentSeconds  = 6
	defaultHLSTimeout         = 1800
	defaultDownloadTimeout    = 300
	defaultProviderSegment    = 6
	defaultProviderReqTimeout = 30
	defaultProviderDLTimeout  = 300
	defaultJobsListLimit      = 50
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Pinata: Pinata{
			APIBaseURL: defaultPinataAPIBaseURL,
			UploadURL:  defaultPinataUploadURL,
		},
		IPFS: IPFS{
			APIURL:     defaultIPFSAPIURL,
			GatewayURL: defaultIPFSGatewayURL,
		},
		Transcode: Transcode{
			SkipMaxMiB:        defaultSkipMaxMiB,
			MaxHeight:         defaultMaxHeight,
			CRF:               defaultCRF,
			TimeoutSeconds:    defaultTranscodeTimeout,
			HLSSegmentSeconds: defaultHLSSegmentSeconds,
			HLSTimeoutSeconds: defaultHLSTimeout,
		},
		Download: Download{
			TimeoutSeconds: defaultDownloadTimeout,
		},
		Provider: Provider{
			SegmentSeconds:  defaultProviderSegment,
			RequestTimeout:  defaultProviderReqTimeout,
			DownloadTimeout: defaultProviderDLTimeout,
		},
		Jobs: Jobs{
			ListLimit: defaultJobsListLimit,
		},
		CORS: CORS{
			AllowedOrigins: []string{"http://localhost:*"},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
