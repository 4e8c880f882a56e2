// Package config handles configuration loading for coven-inbox.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the COVEN_INBOX_CONFIG environment variable
//  2. coven/inbox.yaml, inbox.yml or inbox.toml under the user config directory
//
// Without a file the defaults apply. Files ending in .toml are parsed as
// TOML, anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//
// # Environment Overrides
//
// After the file is read every field can be overridden with
// COVEN_INBOX_<SECTION>_<KEY>, for example COVEN_INBOX_SERVER_HTTP_ADDR or
// COVEN_INBOX_CLIENT_MIN_BACKOFF=1s.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"   # HTTP API and /ws
//	database:
//	  path: "~/.local/share/coven/inbox.db"
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"   # at least 32 bytes
//	  token_ttl: "24h"
//	moderation:
//	  enabled: true
//	  words: ["badword"]
//	  mask: "*"
//	client:
//	  gateway_url: "http://127.0.0.1:8080"
//	  token: "${COVEN_INBOX_TOKEN}"
//	  request_timeout: "15s"
//	  min_backoff: "500ms"
//	  max_backoff: "30s"
//	  dedupe_ttl: "10m"
//	  dedupe_size: 4096
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load checks the settings every command shares. The gateway additionally
// calls ValidateServer and the chat client ValidateClient.
package config
