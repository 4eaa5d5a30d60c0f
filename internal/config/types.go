package config

import "time"

// Config is the root configuration for the sync client.
type Config struct {
	Server   ServerConfig   `yaml:"server,omitempty"`
	Session  SessionConfig  `yaml:"session,omitempty"`
	Backoff  BackoffConfig  `yaml:"backoff,omitempty"`
	Presence PresenceConfig `yaml:"presence,omitempty"`
	Receipts ReceiptConfig  `yaml:"receipts,omitempty"`
	Compose  ComposeConfig  `yaml:"compose,omitempty"`
	RTC      RTCConfig      `yaml:"rtc,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// ServerConfig locates the chat server.
type ServerConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`   // REST collaborator surface, e.g. https://chat.example.com/api
	WSBaseURL      string `yaml:"wsBaseUrl,omitempty"` // channel root, e.g. wss://chat.example.com/ws
	APIToken       string `yaml:"apiToken,omitempty"`  // may be ${ENV_VAR}
	PingIntervalMs int    `yaml:"pingIntervalMs,omitempty"`
}

// SessionConfig identifies the local user.
type SessionConfig struct {
	SelfID   int64  `yaml:"selfId,omitempty"`
	Username string `yaml:"username,omitempty"`
}

// BackoffConfig bounds channel reconnection.
type BackoffConfig struct {
	BaseMs      int `yaml:"baseMs,omitempty"`
	CapMs       int `yaml:"capMs,omitempty"`
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// PresenceConfig tunes offline debouncing.
type PresenceConfig struct {
	OfflineStableMs int `yaml:"offlineStableMs,omitempty"`
}

// ReceiptConfig tunes read-receipt batching.
type ReceiptConfig struct {
	VisibilityThreshold float64 `yaml:"visibilityThreshold,omitempty"`
	NearBottomPx        int     `yaml:"nearBottomPx,omitempty"`
	LoadFlushDelayMs    int     `yaml:"loadFlushDelayMs,omitempty"`
}

// ComposeConfig bounds outbound messages.
type ComposeConfig struct {
	MaxAttachmentBytes int64 `yaml:"maxAttachmentBytes,omitempty"`
}

// RTCConfig configures the peer-connection layer.
type RTCConfig struct {
	ICEServers []ICEServerConfig `yaml:"iceServers,omitempty"`
}

// ICEServerConfig is one STUN/TURN entry.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"` // may be ${ENV_VAR}
}

// StoreConfig locates the local annotation database.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// PingInterval returns the keepalive cadence as a duration.
func (s ServerConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalMs) * time.Millisecond
}

// Base returns the initial reconnect delay.
func (b BackoffConfig) Base() time.Duration { return time.Duration(b.BaseMs) * time.Millisecond }

// Cap returns the maximum reconnect delay.
func (b BackoffConfig) Cap() time.Duration { return time.Duration(b.CapMs) * time.Millisecond }

// OfflineStable returns the presence debounce window.
func (p PresenceConfig) OfflineStable() time.Duration {
	return time.Duration(p.OfflineStableMs) * time.Millisecond
}

// LoadFlushDelay returns the post-load forced-flush delay.
func (r ReceiptConfig) LoadFlushDelay() time.Duration {
	return time.Duration(r.LoadFlushDelayMs) * time.Millisecond
}
