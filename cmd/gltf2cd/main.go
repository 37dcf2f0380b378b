// Command gltf2cd converts glTF and GLB files into scene archives.
package main

import (
	"os"

	"github.com/flywave/go-cdasset/internal/cli"
)

func main() {
	os.Exit(cli.GltfToCD.Run(os.Args[1:], os.Stderr))
}
