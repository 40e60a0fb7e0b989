// gatewayd runs the GPU-resource-aware inference gateway: admission,
// routing, VRAM orchestration, and streaming for a pool of chat model
// backends.
package main

import (
	"os"

	"github.com/modelgateway/inference-gateway/cmd/gatewayd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
