package detector

// Fragments shared by several entries.
const (
	// cmdStart anchors a command word at the start of a simple command,
	// after a separator, behind a wrapper such as env or nohup, and after
	// leading variable assignments.
	cmdStart = `(?:^\s*|[;&|(]\s*|\b(?:then|do|else|exec|time|nohup|nice|command|env|xargs)\s+(?:-\S+\s+)*)(?:\w+=\S*\s+)*`
	// noSep consumes the rest of the current simple command.
	noSep = `[^;&|\n]*`
	// recursiveFlag matches -r/-R inside a short flag cluster or --recursive.
	recursiveFlag = `(?:-[a-zA-Z]*[rR][a-zA-Z]*|--recursive)`
	// rootTarget matches "/", "/*", "~", "$HOME" and their trailing-slash
	// forms, optionally quoted.
	rootTarget = `["']?(?:/\*?|~/?\*?|\$HOME/?\*?|\$\{HOME\}/?\*?)["']?`
	// argEnd closes a path argument.
	argEnd = `(?:\s|$|[;&|])`
	// devices names block devices that must never be written raw.
	devices = `(?:sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d|mmcblk\d|disk\d|rdisk\d|md\d|dm-\d|loop\d)`
	// fetchers download remote content.
	fetchers = `(?:curl|wget|fetch|aria2c)`
	// shells interpret piped input as code.
	shells = `(?:sudo\s+)?(?:ba|z|da|k|c|tc|fi)?sh`
)

// DefaultPatterns returns the built-in detection table. Critical entries
// cover recursive deletes of filesystem roots, fork bombs, raw device writes
// and fetch-then-execute pipelines.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// Destructive deletes.
		{
			Expr:        `\brm\s+` + noSep + recursiveFlag + `\b` + noSep + `\s` + rootTarget + argEnd,
			Severity:    SeverityCritical,
			Description: "Recursive delete of the filesystem root or home directory",
		},
		{
			Expr:        `\brm\s+` + noSep + `--no-preserve-root\b`,
			Severity:    SeverityCritical,
			Description: "rm with --no-preserve-root",
		},
		{
			Expr:        `\brm\s+` + noSep + recursiveFlag + `\b` + noSep + `\s/(?:bin|boot|dev|etc|lib|lib32|lib64|opt|proc|root|sbin|sys|usr|var|System|Library|Applications|Users)` + `(?:/\*?)?` + argEnd,
			Severity:    SeverityHigh,
			Description: "Recursive delete of a system directory",
		},
		{
			Expr:        `\bfind\s+/\s` + noSep + `-delete\b`,
			Severity:    SeverityHigh,
			Description: "find -delete starting at the filesystem root",
		},

		// Fork bombs.
		{
			Expr:        `:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;?\s*:`,
			Severity:    SeverityCritical,
			Description: "Fork bomb",
		},
		{
			Expr:        `\b\w+\s*\(\s*\)\s*\{[^}]*\|\s*[\w:]+\s*&\s*\}\s*;`,
			Severity:    SeverityCritical,
			Description: "Self-replicating function (fork bomb)",
		},
		{
			Expr:        `\bwhile\s+(?:true|:)\s*;\s*do\s+` + noSep + `&\s*(?:;\s*)?done`,
			Severity:    SeverityHigh,
			Description: "Unbounded background process spawning loop",
		},

		// Raw device and filesystem destruction.
		{
			Expr:        `\bdd\b` + noSep + `\bof=/dev/` + devices,
			Severity:    SeverityCritical,
			Description: "Raw write to a block device with dd",
		},
		{
			Expr:        `>\s*/dev/` + devices,
			Severity:    SeverityCritical,
			Description: "Redirect into a block device",
		},
		{
			Expr:        cmdStart + `mkfs(?:\.\w+)?\b`,
			Severity:    SeverityCritical,
			Description: "Filesystem creation (mkfs)",
		},
		{
			Expr:        `\b(?:shred|wipefs|blkdiscard)\b` + noSep + `/dev/`,
			Severity:    SeverityCritical,
			Description: "Device wipe",
		},
		{
			Expr:        `\b(?:fdisk|parted|sfdisk|gdisk)\b` + noSep + `/dev/`,
			Severity:    SeverityHigh,
			Description: "Partition table manipulation",
		},

		// Remote code execution.
		{
			Expr:        `\b` + fetchers + `\b` + noSep + `\|\s*` + shells + `\b`,
			Severity:    SeverityCritical,
			Description: "Remote script piped into a shell",
		},
		{
			Expr:        `\b` + shells + `\s+(?:-\w+\s+)*(?:-c\s+)?["']?(?:\$\(|<\(|` + "`" + `)\s*` + fetchers + `\b`,
			Severity:    SeverityCritical,
			Description: "Shell executing downloaded content",
		},
		{
			Expr:        `\beval\s+["']?(?:\$\(|` + "`" + `)\s*` + fetchers + `\b`,
			Severity:    SeverityCritical,
			Description: "eval of downloaded content",
		},
		{
			Expr:        `\b` + fetchers + `\b` + noSep + `\|\s*(?:sudo\s+)?(?:python[0-9.]*|perl|ruby|node|php)\b`,
			Severity:    SeverityHigh,
			Description: "Remote script piped into an interpreter",
		},

		// Privilege escalation.
		{
			Expr:        cmdStart + `sudo\b`,
			Severity:    SeverityHigh,
			Description: "Privilege escalation with sudo",
		},
		{
			Expr:        cmdStart + `(?:doas|pkexec)\b`,
			Severity:    SeverityHigh,
			Description: "Privilege escalation with doas/pkexec",
		},
		{
			Expr:        cmdStart + `su(?:\s+-\w*)*(?:\s+root)?\s*(?:$|[;&|]|-c\b)`,
			Severity:    SeverityHigh,
			Description: "Switching user with su",
		},
		{
			Expr:        `\bchmod\s+` + noSep + `(?:[ugoa]*\+[rwx]*s|\b[2467][0-7]{3}\b)`,
			Severity:    SeverityHigh,
			Description: "Setting setuid/setgid bits",
		},

		// System configuration.
		{
			Expr:        `>\s*/etc/(?:passwd|shadow|sudoers|group|hosts)\b`,
			Severity:    SeverityHigh,
			Description: "Overwrite of system account or host configuration",
		},
		{
			Expr:        cmdStart + `(?:shutdown|reboot|halt|poweroff)\b`,
			Severity:    SeverityHigh,
			Description: "System shutdown or reboot",
		},
		{
			Expr:        `\bkill\s+-(?:9|KILL|SIGKILL)\s+-1\b`,
			Severity:    SeverityHigh,
			Description: "Kill every process of the user",
		},
		{
			Expr:        `\bchmod\s+` + noSep + `\b777\b`,
			Severity:    SeverityMedium,
			Description: "World-writable permissions",
		},
		{
			Expr:        `\bchown\s+` + noSep + recursiveFlag + `\b` + noSep + `\s/(?:\s|$)`,
			Severity:    SeverityHigh,
			Description: "Recursive ownership change of the filesystem root",
		},
		{
			Expr:        `\bgit\s+push\b` + noSep + `\s(?:--force|-f)(?:\s|$)`,
			Severity:    SeverityMedium,
			Description: "Force push rewrites remote history",
		},
		{
			Expr:        `\bgit\s+reset\s+--hard\b`,
			Severity:    SeverityMedium,
			Description: "Hard reset discards local changes",
		},
		{
			Expr:        `\bcrontab\s+-r\b`,
			Severity:    SeverityMedium,
			Description: "Removal of all cron jobs",
		},
		{
			Expr:        `\bhistory\s+-c\b|\bunset\s+HISTFILE\b`,
			Severity:    SeverityMedium,
			Description: "Shell history tampering",
		},
	}
}
