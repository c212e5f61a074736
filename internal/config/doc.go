// Package config handles configuration loading for coven-plugin.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; every timing knob the
// plugin uses (settle delays, poll intervals, idle thresholds) lives here so
// installs can tune them without rebuilding.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	session_host:
//	  token: "${COVEN_SESSION_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	pool:
//	  idle_timeout: "5m"
//	  sweep_interval: "60s"
//
// # Configuration Sections
//
// Session host (the external agent runtime that executes background tasks):
//
//	session_host:
//	  base_url: "http://127.0.0.1:4096"
//	  token: "${COVEN_SESSION_TOKEN}"
//	  request_timeout: "30s"
//
// Language servers (extends or overrides the builtin registry):
//
//	lsp:
//	  servers:
//	    gopls:
//	      command: "gopls"
//	      extensions: [".go"]
//	  disabled: ["pyright"]
//	  initialize_settle: "300ms"
//	  open_file_settle: "1s"
//	  startup_grace: "100ms"
//
// MCP servers, grouped by the skill that uses them:
//
//	mcp:
//	  skills:
//	    browser:
//	      playwright:
//	        type: stdio
//	        command: "npx"
//	        args: ["-y", "@playwright/mcp"]
//	      search:
//	        type: http
//	        endpoint: "https://example.com/mcp"
//	        headers:
//	          Authorization: "Bearer ${SEARCH_API_KEY}"
//
// Background tasks:
//
//	background:
//	  poll_interval: "2s"
//	  poll_timeout: "5m"
//	  stable_threshold: 3
//	  retention: "1h"
//
// Task history database:
//
//	history:
//	  path: "~/.local/share/coven/plugin-history.db"
package config
