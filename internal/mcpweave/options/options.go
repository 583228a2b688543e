package options

import (
	"github.com/kiosk404/mcpweave/pkg/utils/cliflag"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

// Options aggregates every option group of the mcpweave command.
type Options struct {
	WeaveOptions *WeaveOptions `json:"mcp" mapstructure:"mcp"`
	LogOptions   *LogOptions   `json:"log" mapstructure:"log"`
}

// NewOptions creates the default option set.
func NewOptions() *Options {
	return &Options{
		WeaveOptions: NewWeaveOptions(),
		LogOptions:   NewLogOptions(),
	}
}

// Flags returns the grouped flag sets of all option groups.
func (o *Options) Flags() (fss cliflag.NamedFlagSets) {
	o.WeaveOptions.AddFlags(fss.FlagSet("mcp"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	return fss
}

// Validate checks every option group.
func (o *Options) Validate() error {
	if err := o.WeaveOptions.Validate(); err != nil {
		return err
	}
	return o.LogOptions.Validate()
}

func (o *Options) String() string {
	data, _ := json.Marshal(o)

	return string(data)
}
