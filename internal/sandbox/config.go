package sandbox

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/toolguard/internal/hardening"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SANDBOX_"

// Config holds the resource and permission limits of one execution. Every
// field has a default in DefaultConfig and can be overridden independently.
type Config struct {
	TimeoutMs          int64       `json:"timeoutMs"`
	WallTimeBufferMs   int64       `json:"wallTimeBufferMs"`
	MemoryBytes        int64       `json:"memoryBytes"`
	MaxOutputBytes     int64       `json:"maxOutputBytes"`
	MaxFileSizeBytes   int64       `json:"maxFileSizeBytes"`
	MaxDiskUsageBytes  int64       `json:"maxDiskUsageBytes"`
	MaxFileDescriptors int64       `json:"maxFileDescriptors"`
	MaxProcesses       int64       `json:"maxProcesses"`
	AllowNetwork       bool        `json:"allowNetwork"`
	AllowFileSystem    bool        `json:"allowFileSystem"`
	UseOverlay         bool        `json:"useOverlay"`
	EnableAudit        bool        `json:"enableAudit"`
	DeniedPaths        []string    `json:"deniedPaths"`
	Backend            BackendKind `json:"backend,omitempty"`
}

// DefaultDeniedPaths are never readable by a sandboxed command.
var DefaultDeniedPaths = []string{"/etc/passwd", "/etc/shadow"}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TimeoutMs:          30_000,
		WallTimeBufferMs:   5_000,
		MemoryBytes:        512 << 20,
		MaxOutputBytes:     1 << 20,
		MaxFileSizeBytes:   50 << 20,
		MaxDiskUsageBytes:  100 << 20,
		MaxFileDescriptors: 100,
		MaxProcesses:       10,
		AllowNetwork:       false,
		AllowFileSystem:    true,
		UseOverlay:         false,
		EnableAudit:        false,
		DeniedPaths:        append([]string(nil), DefaultDeniedPaths...),
	}
}

// FromEnv returns DefaultConfig with SANDBOX_* overrides applied.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(os.LookupEnv)
	return cfg, err
}

// ApplyEnv overrides fields from SANDBOX_* variables found by lookup. A
// malformed value is an error; fields before it may already be applied.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	ints := []struct {
		name string
		dst  *int64
	}{
		{"TIMEOUT_MS", &c.TimeoutMs},
		{"WALL_TIME_BUFFER_MS", &c.WallTimeBufferMs},
		{"MEMORY_BYTES", &c.MemoryBytes},
		{"MAX_OUTPUT_BYTES", &c.MaxOutputBytes},
		{"MAX_FILE_SIZE_BYTES", &c.MaxFileSizeBytes},
		{"MAX_DISK_USAGE_BYTES", &c.MaxDiskUsageBytes},
		{"MAX_FILE_DESCRIPTORS", &c.MaxFileDescriptors},
		{"MAX_PROCESSES", &c.MaxProcesses},
	}
	for _, f := range ints {
		v, ok := lookup(EnvPrefix + f.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("%s%s: invalid value %q", EnvPrefix, f.name, v)
		}
		*f.dst = n
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"ALLOW_NETWORK", &c.AllowNetwork},
		{"ALLOW_FILE_SYSTEM", &c.AllowFileSystem},
		{"USE_OVERLAY", &c.UseOverlay},
		{"ENABLE_AUDIT", &c.EnableAudit},
	}
	for _, f := range bools {
		v, ok := lookup(EnvPrefix + f.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: invalid value %q", EnvPrefix, f.name, v)
		}
		*f.dst = b
	}

	if v, ok := lookup(EnvPrefix + "BACKEND"); ok && strings.TrimSpace(v) != "" {
		kind, err := ParseBackendKind(v)
		if err != nil {
			return fmt.Errorf("%sBACKEND: %w", EnvPrefix, err)
		}
		c.Backend = kind
	}
	return nil
}

// Validate reports configuration that cannot be executed.
func (c Config) Validate() error {
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeoutMs must be positive, got %d", c.TimeoutMs)
	}
	if c.WallTimeBufferMs < 0 {
		return fmt.Errorf("wallTimeBufferMs must not be negative, got %d", c.WallTimeBufferMs)
	}
	if c.MaxOutputBytes < 0 || c.MaxDiskUsageBytes < 0 {
		return fmt.Errorf("output and disk limits must not be negative")
	}
	if c.Backend != "" {
		if _, err := ParseBackendKind(string(c.Backend)); err != nil {
			return err
		}
	}
	return nil
}

// Timeout is the configured execution timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// WallTime is the hard wall-clock ceiling: timeout plus buffer.
func (c Config) WallTime() time.Duration {
	return time.Duration(c.TimeoutMs+c.WallTimeBufferMs) * time.Millisecond
}

// Limits converts the config into per-process limits for an enforcer.
func (c Config) Limits() hardening.Limits {
	return hardening.Limits{
		MemoryBytes:     c.MemoryBytes,
		FileDescriptors: c.MaxFileDescriptors,
		Processes:       c.MaxProcesses,
		FileSizeBytes:   c.MaxFileSizeBytes,
	}
}
