package main

import (
	"os"

	"github.com/malbeclabs/copilot/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
