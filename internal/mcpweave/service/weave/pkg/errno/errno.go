package errno

import (
	"errors"
)

var (
	ErrConfigInvalid       = errors.New("configuration layer invalid")
	ErrConnectFailed       = errors.New("provider connect failed")
	ErrTimeout             = errors.New("call timed out")
	ErrTransportFailure    = errors.New("transport failure")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrUnknownResource     = errors.New("unknown resource")
	ErrResourceFetchFailed = errors.New("resource fetch failed")
	ErrSessionClosed       = errors.New("session closed")
	ErrNoProviders         = errors.New("no providers reachable")
)
