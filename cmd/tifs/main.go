// Command tifs mounts a TiFS filesystem backed by a TiKV cluster.
package main

import "github.com/tifs-fs/tifs/cmd/tifs/cmd"

func main() {
	cmd.Execute()
}
