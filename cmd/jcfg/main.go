// Command jcfg builds control flow graphs for the methods of JVM programs
// described in YAML, writes them as map and control flow files, and keeps a
// store of the built graphs.
package main

import (
	"os"

	"github.com/l3aro/go-cfg-engine/cmd/jcfg/commands"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	commands.SetVersion(version, buildTime)
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
