package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.APIToken = expandEnvVars(cfg.Server.APIToken)
	for i := range cfg.RTC.ICEServers {
		cfg.RTC.ICEServers[i].Credential = expandEnvVars(cfg.RTC.ICEServers[i].Credential)
	}
}

// Defaults returns the built-in configuration. The numeric defaults mirror
// the server's reference client.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			PingIntervalMs: 30_000,
		},
		Backoff: BackoffConfig{
			BaseMs:      1_000,
			CapMs:       30_000,
			MaxAttempts: 8,
		},
		Presence: PresenceConfig{
			OfflineStableMs: 2_000,
		},
		Receipts: ReceiptConfig{
			VisibilityThreshold: 0.6,
			NearBottomPx:        150,
			LoadFlushDelayMs:    150,
		},
		Compose: ComposeConfig{
			MaxAttachmentBytes: 10 << 20,
		},
		RTC: RTCConfig{
			ICEServers: []ICEServerConfig{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lumasync.db"
	}
	return home + "/.lumasync/annotations.db"
}

// applyDefaults fills zero-valued tunables after unmarshalling, so a partial
// config file does not silently zero a timer.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Server.PingIntervalMs == 0 {
		cfg.Server.PingIntervalMs = def.Server.PingIntervalMs
	}
	if cfg.Backoff.BaseMs == 0 {
		cfg.Backoff.BaseMs = def.Backoff.BaseMs
	}
	if cfg.Backoff.CapMs == 0 {
		cfg.Backoff.CapMs = def.Backoff.CapMs
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff.MaxAttempts = def.Backoff.MaxAttempts
	}
	if cfg.Presence.OfflineStableMs == 0 {
		cfg.Presence.OfflineStableMs = def.Presence.OfflineStableMs
	}
	if cfg.Receipts.VisibilityThreshold == 0 {
		cfg.Receipts.VisibilityThreshold = def.Receipts.VisibilityThreshold
	}
	if cfg.Receipts.NearBottomPx == 0 {
		cfg.Receipts.NearBottomPx = def.Receipts.NearBottomPx
	}
	if cfg.Receipts.LoadFlushDelayMs == 0 {
		cfg.Receipts.LoadFlushDelayMs = def.Receipts.LoadFlushDelayMs
	}
	if cfg.Compose.MaxAttachmentBytes == 0 {
		cfg.Compose.MaxAttachmentBytes = def.Compose.MaxAttachmentBytes
	}
	if len(cfg.RTC.ICEServers) == 0 {
		cfg.RTC.ICEServers = def.RTC.ICEServers
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// Load reads the config file and returns a merged Config. A missing file
// produces defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}
