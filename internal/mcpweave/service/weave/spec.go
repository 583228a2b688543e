package weave

import (
	"fmt"
	"strings"
)

// ParseServerSpec parses a CLI-style inline server specification of the form
// "name:transport:command-or-url".
//
// For stdio the remainder is a command with space-separated arguments, for
// websocket it is a URL:
//
//	filesystem:stdio:mcp-server-filesystem /path
//	web:websocket:ws://localhost:8000/mcp
func ParseServerSpec(spec string) (*ServerConfig, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid server spec %q: want name:transport:command-or-url", spec)
	}

	name, transport, rest := parts[0], parts[1], parts[2]
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("invalid server spec %q: empty name", spec)
	}

	switch transport {
	case TransportStdio:
		command := strings.Fields(rest)
		if len(command) == 0 {
			return nil, fmt.Errorf("invalid server spec %q: stdio requires a command", spec)
		}
		return &ServerConfig{Name: name, Transport: TransportStdio, Command: command}, nil
	case TransportWebSocket:
		if strings.TrimSpace(rest) == "" {
			return nil, fmt.Errorf("invalid server spec %q: websocket requires a url", spec)
		}
		return &ServerConfig{Name: name, Transport: TransportWebSocket, URL: rest}, nil
	default:
		return nil, fmt.Errorf("invalid server spec %q: unsupported transport %q", spec, transport)
	}
}
