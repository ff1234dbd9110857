package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opencode-ai/toolguard/internal/permission"
	"github.com/opencode-ai/toolguard/internal/policy"
	"github.com/opencode-ai/toolguard/internal/sandbox"
	"github.com/tidwall/jsonc"
)

// File names searched in every config directory.
var fileNames = []string{"toolguard.json", "toolguard.jsonc"}

// DefaultPermissionTimeoutMs bounds an approval wait unless configured.
const DefaultPermissionTimeoutMs = 120_000

// Config is the merged configuration of the tool.
type Config struct {
	Schema     string           `json:"$schema,omitempty"`
	LogLevel   string           `json:"logLevel,omitempty"`
	Sandbox    sandbox.Config   `json:"sandbox"`
	Policy     PolicyConfig     `json:"policy"`
	Permission PermissionConfig `json:"permission"`
	Server     ServerConfig     `json:"server"`

	// Sources lists the files that were merged, in order.
	Sources []string `json:"-"`
}

// PolicyConfig configures the execution policy. Rules come before wildcards;
// a rule file, when set, replaces both and is watched for changes.
type PolicyConfig struct {
	File      string                     `json:"file,omitempty"`
	Rules     []policy.Rule              `json:"rules,omitempty"`
	Wildcards map[string]policy.Decision `json:"wildcards,omitempty"`
}

// PermissionConfig configures approval waits.
type PermissionConfig struct {
	TimeoutMs          int64 `json:"timeoutMs"`
	AutoAllowOnTimeout bool  `json:"autoAllowOnTimeout"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Host defaults to loopback; binding elsewhere exposes an
	// unauthenticated gate.
	Host        string   `json:"host,omitempty"`
	Port        int      `json:"port,omitempty"`
	CORSOrigins []string `json:"corsOrigins,omitempty"`
	// AllowedRoot confines the working directory of executed calls.
	AllowedRoot string `json:"allowedRoot,omitempty"`
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		Sandbox:  sandbox.DefaultConfig(),
		Permission: PermissionConfig{
			TimeoutMs: DefaultPermissionTimeoutMs,
		},
	}
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/toolguard/)
// 2. Project config (<directory>/ and <directory>/.toolguard/)
// 3. TOOLGUARD_CONFIG file
// 4. TOOLGUARD_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped. A file that exists but does not parse is an
// error, as is a malformed environment override.
func Load(directory string) (*Config, error) {
	cfg := Default()
	loaded := make(map[string]bool)

	loadOnce := func(path string, required bool) error {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if loaded[absPath] {
			return nil
		}
		err = loadConfigFile(absPath, cfg)
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		if err != nil {
			return err
		}
		loaded[absPath] = true
		cfg.Sources = append(cfg.Sources, absPath)
		return nil
	}

	var candidates []string
	global := GetPaths().Config
	for _, name := range fileNames {
		candidates = append(candidates, filepath.Join(global, name))
	}
	if directory != "" {
		for _, name := range fileNames {
			candidates = append(candidates, filepath.Join(directory, name))
		}
		for _, name := range fileNames {
			candidates = append(candidates, filepath.Join(directory, ".toolguard", name))
		}
	}
	for _, path := range candidates {
		if err := loadOnce(path, false); err != nil {
			return nil, err
		}
	}

	if path := os.Getenv("TOOLGUARD_CONFIG"); path != "" {
		if err := loadOnce(path, true); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv("TOOLGUARD_CONFIG_CONTENT"); content != "" {
		wd, _ := os.Getwd()
		if err := decode([]byte(content), wd, cfg); err != nil {
			return nil, fmt.Errorf("TOOLGUARD_CONFIG_CONTENT: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a single file over the defaults and environment, the way
// an explicit --config flag does.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := loadConfigFile(absPath, cfg); err != nil {
		return nil, err
	}
	cfg.Sources = append(cfg.Sources, absPath)
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile merges one file into cfg. Fields absent from the file keep
// their current values.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := decode(data, filepath.Dir(path), cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func decode(data []byte, baseDir string, cfg *Config) error {
	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	prevFile := cfg.Policy.File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if cfg.Policy.File != prevFile && cfg.Policy.File != "" {
		cfg.Policy.File = resolvePath(cfg.Policy.File, baseDir)
	}
	return nil
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return jsonEscape(os.Getenv(envPattern.FindStringSubmatch(match)[1]))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		content, err := os.ReadFile(resolvePath(filePattern.FindStringSubmatch(match)[1], baseDir))
		if err != nil {
			return match // Keep original if file not found
		}
		return jsonEscape(strings.TrimRight(string(content), "\n"))
	})

	return []byte(str)
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

func resolvePath(p, baseDir string) string {
	switch {
	case strings.HasPrefix(p, "~/"):
		home, _ := os.UserHomeDir()
		return filepath.Join(home, p[2:])
	case filepath.IsAbs(p):
		return p
	default:
		return filepath.Join(baseDir, p)
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if err := cfg.Sandbox.ApplyEnv(lookup); err != nil {
		return err
	}
	if v, ok := lookup("TOOLGUARD_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup("TOOLGUARD_POLICY_FILE"); ok && v != "" {
		cfg.Policy.File = v
	}
	if v, ok := lookup("TOOLGUARD_PERMISSION_TIMEOUT_MS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("TOOLGUARD_PERMISSION_TIMEOUT_MS: invalid value %q", v)
		}
		cfg.Permission.TimeoutMs = n
	}
	return nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if err := c.Sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	if c.Permission.TimeoutMs < 0 {
		return errors.New("permission: timeoutMs must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	return nil
}

// Engine builds the policy engine from inline rules and wildcards. A
// configured rule file takes precedence; use policy.NewWatcher for it.
func (c *Config) Engine() (*policy.Engine, error) {
	if c.Policy.File != "" {
		return policy.LoadFile(c.Policy.File)
	}
	f := policy.File{Rules: c.Policy.Rules, Wildcards: c.Policy.Wildcards}
	return f.Engine()
}

// AskContext returns the approval bounds for permission requests.
func (c *Config) AskContext() permission.AskContext {
	return permission.AskContext{
		Timeout:            time.Duration(c.Permission.TimeoutMs) * time.Millisecond,
		AutoAllowOnTimeout: c.Permission.AutoAllowOnTimeout,
	}
}
