// Package api exposes a running labelctl daemon over MCP (Model Context Protocol).
//
// The server listens on the port allocated for the "control" service and
// serves streamable HTTP on /mcp. Every operator command of the CLI is a tool:
//
//   - status, ports_list, printer_list, tunnel_list: read the current state
//   - printer_rescan, printer_remove: drive the device registrar
//   - tunnel_set_domain, tunnel_configure, tunnel_start, tunnel_stop: drive
//     a tunnel controller
//
// Successful calls return indented JSON text. Failures are tool errors whose
// text carries the error message and, when one exists, a remediation hint on
// a second line prefixed with "hint: ".
package api
