package connector

import "errors"

// Sentinel errors for the tool connector.
var (
	// ErrConnectionFailed marks exhaustion of the dial retry budget.
	// Discovery callers treat it as "no tools from this server";
	// invoke callers report it back into the conversation.
	ErrConnectionFailed = errors.New("tool server connection failed")

	// ErrUnsupportedTransport marks a ServerConfig whose transport kind
	// the connector cannot open.
	ErrUnsupportedTransport = errors.New("unsupported tool server transport")
)
