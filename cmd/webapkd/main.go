package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/webapkd/cmd/webapkd/app"
)

func main() {
	if err := app.NewWebapkdCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
