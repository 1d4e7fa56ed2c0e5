package logging

import "time"

type Config struct {
	EnabledSinks     []string       `json:"enabledSinks" yaml:"enabledSinks"`
	BufferSize       int            `json:"bufferSize" yaml:"bufferSize"`
	MinimumSeverity  Severity       `json:"minimumSeverity" yaml:"minimumSeverity"`
	Fields           map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	JSON             JSONConfig     `json:"json" yaml:"json"`
	Console          ConsoleConfig  `json:"console" yaml:"console"`
	DropWarnInterval time.Duration  `json:"dropWarnInterval" yaml:"dropWarnInterval"`
}

// JSONConfig controls the newline-delimited JSON sink. An empty FilePath
// writes to stdout; otherwise the file is rotated once it reaches MaxSizeMB.
type JSONConfig struct {
	FilePath      string        `json:"filePath" yaml:"filePath"`
	FlushInterval time.Duration `json:"flushInterval" yaml:"flushInterval"`
	MaxSizeMB     int           `json:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups    int           `json:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays    int           `json:"maxAgeDays" yaml:"maxAgeDays"`
	Compress      bool          `json:"compress" yaml:"compress"`
}

type ConsoleConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
			MaxSizeMB:     50,
			MaxBackups:    3,
			MaxAgeDays:    14,
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
