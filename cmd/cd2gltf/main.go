// Command cd2gltf converts scene archives into glTF or GLB files.
package main

import (
	"os"

	"github.com/flywave/go-cdasset/internal/cli"
)

func main() {
	os.Exit(cli.CDToGltf.Run(os.Args[1:], os.Stderr))
}
