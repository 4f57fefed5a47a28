package main

import (
	"os"

	"github.com/bookhealth/bookhealth/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
