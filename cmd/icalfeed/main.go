package main

import (
	_ "time/tzdata"
)

// version will be set at build time via -ldflags.
var version = "dev"

func main() {
	Execute(version)
}
