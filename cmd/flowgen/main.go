// flowgen generates n8n workflows from natural-language prompts.
//
// Usage:
//
//	flowgen serve [--config flowgen.yaml]
//	flowgen generate "post new RSS items to slack" [-o workflow.json]
//	flowgen quota <identity>
//	flowgen catalog import <dir>
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
