package config

import (
	"fmt"
	"strings"
)

// ConfigError is a validation or parse failure with a field path.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a loaded config for use by the client session.
func Validate(cfg Config) error {
	var errs []string

	if cfg.Server.WSBaseURL == "" {
		errs = append(errs, "server.wsBaseUrl: required (e.g. wss://host/ws)")
	} else if !strings.HasPrefix(cfg.Server.WSBaseURL, "ws://") && !strings.HasPrefix(cfg.Server.WSBaseURL, "wss://") {
		errs = append(errs, "server.wsBaseUrl: must start with ws:// or wss://")
	}
	if cfg.Server.BaseURL == "" {
		errs = append(errs, "server.baseUrl: required")
	}
	if cfg.Session.SelfID <= 0 {
		errs = append(errs, "session.selfId: required and positive")
	}
	if cfg.Backoff.BaseMs <= 0 {
		errs = append(errs, "backoff.baseMs: must be positive")
	}
	if cfg.Backoff.CapMs < cfg.Backoff.BaseMs {
		errs = append(errs, "backoff.capMs: must be >= backoff.baseMs")
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		errs = append(errs, "backoff.maxAttempts: must be positive")
	}
	if cfg.Receipts.VisibilityThreshold <= 0 || cfg.Receipts.VisibilityThreshold > 1 {
		errs = append(errs, "receipts.visibilityThreshold: must be in (0, 1]")
	}
	if cfg.Receipts.NearBottomPx < 0 {
		errs = append(errs, "receipts.nearBottomPx: must not be negative")
	}
	if cfg.Presence.OfflineStableMs <= 0 {
		errs = append(errs, "presence.offlineStableMs: must be positive")
	}
	if cfg.Compose.MaxAttachmentBytes <= 0 {
		errs = append(errs, "compose.maxAttachmentBytes: must be positive")
	}
	for i, ice := range cfg.RTC.ICEServers {
		if len(ice.URLs) == 0 {
			errs = append(errs, fmt.Sprintf("rtc.iceServers[%d].urls: required", i))
		}
	}

	if len(errs) > 0 {
		return &ConfigError{Message: "invalid config:\n  " + strings.Join(errs, "\n  ")}
	}
	return nil
}
