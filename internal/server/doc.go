// Package server implements the MCP (Model Context Protocol) server for the
// symbol pipeline.
//
// The server speaks JSON-RPC 2.0 over stdio, one request per line, and
// supports initialize, tools/list, tools/call and ping. Logs go to stderr so
// stdout carries only protocol traffic.
//
// # Tools
//
// Inspection:
//   - image_load: page metadata and section count
//   - image_crop: rectangular region as base64 PNG
//
// Symbol pipeline:
//   - symbols_split: section layout of a page
//   - symbols_detect: reconciled detections in page coordinates
//   - symbols_extract_legend: exemplars from a legend image
//   - symbols_match: full legend-to-page assignment report
//
// Decoded images are cached by path for the life of the process.
//
// Tool failures are returned as JSON-RPC errors with code -32000 and the Go
// error string as data. Malformed tools/call params get -32602 and unknown
// methods -32601.
package server
