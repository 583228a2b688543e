package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave"
)

func TestOptionsValidateDefaults(t *testing.T) {
	assert.NoError(t, NewOptions().Validate())
}

func TestWeaveOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WeaveOptions)
		ok     bool
	}{
		{"negative timeout", func(o *WeaveOptions) { o.Timeout = -1 }, false},
		{"negative retries", func(o *WeaveOptions) { o.MaxRetries = -1 }, false},
		{"port out of range", func(o *WeaveOptions) { o.BuiltinPort = 70000 }, false},
		{"bad server spec", func(o *WeaveOptions) { o.Servers = []string{"nope"} }, false},
		{"good server spec", func(o *WeaveOptions) { o.Servers = []string{"fs:stdio:server /data"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewWeaveOptions()
			tt.mutate(o)
			err := o.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLogOptionsValidate(t *testing.T) {
	o := NewLogOptions()
	assert.NoError(t, o.Validate())

	o.Level = "debug"
	assert.NoError(t, o.Validate())

	o.Level = "loud"
	assert.Error(t, o.Validate())
}

func TestOverrideLayerEmptyWhenNothingSet(t *testing.T) {
	layer, err := NewWeaveOptions().OverrideLayer()
	require.NoError(t, err)
	assert.Nil(t, layer)
}

func TestOverrideLayerFromFlags(t *testing.T) {
	o := NewWeaveOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--mcp.timeout=45",
		"--mcp.server=fs:stdio:server /data",
		"--mcp.server=web:websocket:ws://localhost:9000/mcp",
	}))

	layer, err := o.OverrideLayer()
	require.NoError(t, err)
	require.NotNil(t, layer)
	assert.Equal(t, weave.LayerFlags, layer.Source)

	require.NotNil(t, layer.Settings.Timeout)
	assert.Equal(t, 45, *layer.Settings.Timeout)
	assert.Nil(t, layer.Settings.MaxRetries)

	require.Len(t, layer.Servers, 2)
	assert.Equal(t, "fs", layer.Servers[0].Name)
	assert.Equal(t, []string{"server", "/data"}, layer.Servers[0].Command)
	assert.Equal(t, "web", layer.Servers[1].Name)
	assert.Equal(t, "ws://localhost:9000/mcp", layer.Servers[1].URL)
}
