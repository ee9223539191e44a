// Package buildfile loads build files into a graph.Graph.
//
// Two formats are understood. HCL files (.hcl) declare one `target` block
// per node:
//
//	target "app" {
//	  depends_on = ["lib"]
//	  command    = ["go", "build", "./..."]
//	  dir        = "cmd/app"
//	  env        = { CGO_ENABLED = "0" }
//	  message    = "building for ${env.USER}"
//	}
//
// The environment of the process is available to expressions as `env`.
// YAML files (.yaml, .yml) carry the same fields under a `targets` list.
//
// A command given as a single string runs through `sh -c`; a list runs the
// program directly. A target with neither a command nor a message is inert.
// Targets may depend on targets declared later or in other files.
package buildfile
