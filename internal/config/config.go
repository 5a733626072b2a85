package config

import "time"

// Config holds the process-wide settings for the mailbox storage engine.
// It is deliberately small: the core library takes most of its behavior
// as explicit arguments to Open rather than hidden global state (§9 of
// the design notes), but a handful of defaults are still worth centralizing
// so every engine and the locker agree on them.
type Config struct {
	Locker  LockerConfig  `yaml:"locker"`
	Mbox    MboxConfig    `yaml:"mbox"`
	Maildir MaildirConfig `yaml:"maildir"`
	Dotmail DotmailConfig `yaml:"dotmail"`
	Logging LoggingConfig `yaml:"logging"`
}

type LockerConfig struct {
	// Type selects the default backend: "dotlock", "kernel", "external", "null".
	Type string `yaml:"type"`
	// ExternalHelper is the path to the helper binary used by the
	// "external" locker type (§6 helper contract).
	ExternalHelper string        `yaml:"external_helper"`
	RetryCount     int           `yaml:"retry_count"`
	RetrySleep     time.Duration `yaml:"retry_sleep"`
	ExpireTime     time.Duration `yaml:"expire_time"`
	CheckPID       bool          `yaml:"check_pid"`
}

type MboxConfig struct {
	// AutodetectLevel controls how hard the registrar looks before
	// accepting a path as a valid mbox (§4.5 Autodetection).
	AutodetectLevel int `yaml:"autodetect_level"`
}

type MaildirConfig struct {
	BasePath string `yaml:"base_path"`
}

type DotmailConfig struct {
	AutodetectLevel int `yaml:"autodetect_level"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Locker: LockerConfig{
			Type:           "dotlock",
			ExternalHelper: "",
			RetryCount:     10,
			RetrySleep:     1 * time.Second,
			ExpireTime:     10 * time.Minute,
			CheckPID:       true,
		},
		Mbox: MboxConfig{
			AutodetectLevel: 1,
		},
		Maildir: MaildirConfig{
			BasePath: "/var/mail",
		},
		Dotmail: DotmailConfig{
			AutodetectLevel: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
