// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates flags, APW_* environment variables and the optional .apwrc.yaml
// into the application's configuration.
package cli
