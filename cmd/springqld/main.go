// Command springqld is a thin CLI shell over the embeddable pipeline
// API (internal/pipeline): it opens a runtime, feeds it a DDL script,
// and prints whatever rows an IN_MEMORY_QUEUE sink produces, mirroring
// the original implementation's C-callable open/command/pop/close
// surface as a command instead of a cgo boundary.
package main

import "github.com/springql-go/springql/cmd/springqld/cmd"

func main() {
	cmd.Execute()
}
