// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the build lifecycle: loading build files,
// turning them into a graph and running the requested targets, optionally
// again on every change. It is decoupled from any specific entrypoint like
// a CLI.
package app
