package weave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerSpec(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want *ServerConfig
	}{
		{
			name: "stdio with arguments",
			spec: "filesystem:stdio:mcp-server-filesystem /srv/data --readonly",
			want: &ServerConfig{
				Name:      "filesystem",
				Transport: TransportStdio,
				Command:   []string{"mcp-server-filesystem", "/srv/data", "--readonly"},
			},
		},
		{
			name: "websocket keeps embedded colons",
			spec: "web:websocket:ws://localhost:8000/mcp",
			want: &ServerConfig{
				Name:      "web",
				Transport: TransportWebSocket,
				URL:       "ws://localhost:8000/mcp",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServerSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseServerSpecErrors(t *testing.T) {
	for _, spec := range []string{
		"",
		"name-only",
		"name:stdio",
		":stdio:cmd",
		"x:stdio:   ",
		"x:websocket: ",
		"x:smoke-signal:target",
	} {
		_, err := ParseServerSpec(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}
