package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates the input bytes were not valid JSON.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON is not a valid request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters. Unsupported
	// protocol versions on initialize and tool argument binding failures both
	// map here.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates a failure inside a method handler,
	// including upstream errors and timeouts.
	ErrorCodeInternalError ErrorCode = -32603
)
