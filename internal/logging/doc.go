// Package logging provides opt-in file-based structured logging with
// rotation for groundwork. By default logging goes to stderr only; when a
// file path is configured, comprehensive JSON logs are also written there
// for debugging.
package logging
