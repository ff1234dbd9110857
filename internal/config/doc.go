// Package config loads and merges toolguard configuration.
//
// # Configuration Loading
//
// Load merges configuration from several sources, later ones winning:
//
//  1. Global config (~/.config/toolguard/toolguard.json[c])
//  2. Project config (<dir>/toolguard.json[c], then <dir>/.toolguard/toolguard.json[c])
//  3. TOOLGUARD_CONFIG file
//  4. TOOLGUARD_CONFIG_CONTENT inline JSON
//  5. Environment variables (SANDBOX_*, TOOLGUARD_LOG_LEVEL,
//     TOOLGUARD_POLICY_FILE, TOOLGUARD_PERMISSION_TIMEOUT_MS)
//
// Each file is decoded onto the result of the previous step, so a file only
// needs the keys it changes. Lists replace, maps merge.
//
// # Supported Formats
//
// Files are JSON or JSONC (comments stripped with tidwall/jsonc). Unknown
// keys are errors, so a typo in a limit never silently falls back to the
// default.
//
//	{
//	  // sandbox limits; see sandbox.Config
//	  "sandbox": {"timeoutMs": 60000, "allowNetwork": true},
//	  "policy": {
//	    "rules": [{"name": "no-push", "pattern": "^git push", "decision": "forbidden"}],
//	    "wildcards": {"go test *": "allow", "make *": "allow"}
//	  },
//	  "permission": {"timeoutMs": 120000, "autoAllowOnTimeout": false},
//	  "logLevel": "DEBUG"
//	}
//
// # Variable Interpolation
//
// String values may contain {env:VAR} and {file:path} placeholders. File
// paths are relative to the directory of the config file that names them, as
// is policy.file.
//
// # Paths
//
// GetPaths returns the XDG data, config and state directories used for audit
// storage and log files.
package config
