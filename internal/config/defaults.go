package config

const (
	defaultInboxDir     = "~/documents/inbox"
	defaultArchiveDir   = "~/.local/share/alfrd/archive"
	defaultOutputDir    = "~/documents/filed"
	defaultDataDir      = "~/.local/share/alfrd"
	defaultLogDir       = "~/.local/share/alfrd/logs"
	defaultDocTypesPath = "~/.config/alfrd/doctypes.yaml"

	defaultPollIntervalSeconds       = 5
	defaultRecoveryIntervalSeconds   = 60
	defaultStaleTimeoutSeconds       = 600
	defaultFailedRetryBackoffSeconds = 300
	defaultMaxRetries                = 3
	defaultOCRConcurrency            = 2
	defaultLLMConcurrency            = 4
	defaultFileGenConcurrency        = 2
	defaultDocumentFlowConcurrency   = 4
	defaultFileFlowConcurrency       = 2
	defaultBatchMultiplier           = 2
	defaultLockTimeoutSeconds        = 30
	defaultLockBackoffMillis         = 500
	defaultLockTTLSeconds            = 120

	defaultOCRTimeoutSeconds = 120
	defaultOCRMaxPages       = 200

	defaultLLMModel          = "claude-sonnet-4-5"
	defaultLLMMaxTokens      = 4096
	defaultLLMTimeoutSeconds = 120
	defaultLLMRetryAttempts  = 3

	defaultNotifyRequestTimeout = 10

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60
)

// Default returns a fresh Config populated with repository defaults. Each
// call allocates its own Config so callers may mutate the result freely.
func Default() *Config {
	return &Config{
		Paths: Paths{
			InboxDir:    defaultInboxDir,
			ArchiveDir:  defaultArchiveDir,
			OutputDir:   defaultOutputDir,
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			DocTypesPath: defaultDocTypesPath,
		},
		Workflow: Workflow{
			PollIntervalSeconds:       defaultPollIntervalSeconds,
			RecoveryIntervalSeconds:   defaultRecoveryIntervalSeconds,
			StaleTimeoutSeconds:       defaultStaleTimeoutSeconds,
			FailedRetryBackoffSeconds: defaultFailedRetryBackoffSeconds,
			MaxRetries:                defaultMaxRetries,
			OCRConcurrency:            defaultOCRConcurrency,
			LLMConcurrency:            defaultLLMConcurrency,
			FileGenConcurrency:        defaultFileGenConcurrency,
			DocumentFlowConcurrency:   defaultDocumentFlowConcurrency,
			FileFlowConcurrency:       defaultFileFlowConcurrency,
			BatchMultiplier:           defaultBatchMultiplier,
			LockTimeoutSeconds:        defaultLockTimeoutSeconds,
			LockBackoffMillis:         defaultLockBackoffMillis,
			LockTTLSeconds:            defaultLockTTLSeconds,
		},
		OCR: OCR{
			TimeoutSeconds: defaultOCRTimeoutSeconds,
			MaxPages:       defaultOCRMaxPages,
		},
		LLM: LLM{
			Model:          defaultLLMModel,
			MaxTokens:      defaultLLMMaxTokens,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			RetryAttempts:  defaultLLMRetryAttempts,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Documents:      true,
			Series:         true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
