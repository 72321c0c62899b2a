// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from an optional YAML file, environment variables prefixed
// with SANDBOXD_, and built-in defaults. It covers the HTTP/MCP server, the
// isolated environment backend, session lifecycle timings, the unisolated
// fallback interpreter, and logging.
//
// Usage:
//
//	cfg, err := config.Load("/etc/sandboxd/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Idle timeout: %s\n", cfg.IdleTimeout())
package config
