package main

import (
	"os"

	"github.com/dshills/compliancebot/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
