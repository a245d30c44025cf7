package main

import (
	"os"

	"github.com/Beckhoff-USA-PM/AAG-Machine-update-at-file-level/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
