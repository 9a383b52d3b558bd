// Package streaminghttp serves MCP over HTTP. The /mcp/rpc endpoint is the
// plain request/response mode: one JSON-RPC envelope per POST body, one
// JSON envelope back. The /mcp endpoint additionally supports server-push
// delivery: when the client accepts text/event-stream, outcomes are framed
// as SSE events instead of a single JSON body. Both endpoints dispatch
// through the same engine; streaming is a delivery mechanism, not a
// different protocol.
//
// Each HTTP call is independent. There is no session store; capabilities
// are re-derived from the protocol version the caller declares.
package streaminghttp
