// Package mcpservice implements the server's tool registry: a static table
// of declaratively described tools, the argument binding that turns raw
// JSON-RPC params into typed values, and the invocation path that calls the
// underlying implementation under a bounded timeout.
//
// Tool input schemas are derived from the same parameter declarations that
// drive binding, so the schema a client sees and the validation it gets are
// always the same. There is no runtime reflection involved; adding a tool
// is adding one Tool value to the registry.
package mcpservice
