package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var validLevels = map[string]bool{
	"": true, "debug": true, "info": true, "warning": true, "error": true,
}

// LogOptions holds process-wide logging options.
type LogOptions struct {
	// Level is the minimum level to emit. Empty defers to the resolved
	// weave settings.
	Level string `json:"level" mapstructure:"level"`

	// File redirects log output; empty keeps stderr.
	File string `json:"file" mapstructure:"file"`
}

// NewLogOptions creates a default LogOptions instance.
func NewLogOptions() *LogOptions {
	return &LogOptions{}
}

// Validate checks the LogOptions for correctness.
func (o *LogOptions) Validate() error {
	if !validLevels[o.Level] {
		return fmt.Errorf("log.level must be one of debug, info, warning, error; got %q", o.Level)
	}
	return nil
}

// AddFlags adds the LogOptions flags to the given flag set.
func (o *LogOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum log level (debug, info, warning, error).")
	fs.StringVar(&o.File, "log.file", o.File, "Log file path; empty logs to stderr.")
}
