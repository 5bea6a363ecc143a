// Package config loads, validates and watches the service's YAML
// configuration.
//
// Secrets (API keys, tokens, passwords, webhook URLs) are never stored in the
// file; the file names environment variables and the accessors resolve them
// at call time.
//
// Watch re-reads the file on write and hands the new Config to the caller;
// a file that fails to parse or validate keeps the previous config active.
package config
