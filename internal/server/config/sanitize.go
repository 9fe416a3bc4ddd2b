package config

import "strings"

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *NodeConfig) *NodeConfig {
	sanitized := *cfg
	if sanitized.Server.HTTP.AdminToken != "" {
		sanitized.Server.HTTP.AdminToken = maskSecret(sanitized.Server.HTTP.AdminToken)
	}
	if sanitized.Discovery.SecretKey != "" {
		sanitized.Discovery.SecretKey = maskSecret(sanitized.Discovery.SecretKey)
	}
	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
