// Package mcp defines the Model Context Protocol message and capability
// types exchanged by this server, along with the method names and protocol
// revisions it understands.
package mcp
