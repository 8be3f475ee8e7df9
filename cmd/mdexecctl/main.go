// Command mdexecctl runs a small control-flow graph through the executor
// and prints its final outputs, mirroring the teacher's cmd/cli demo
// binary shape.
package main

import "github.com/noneback/mdexec/cmd/mdexecctl/cmd"

func main() {
	cmd.Execute()
}
