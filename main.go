package main

import (
	"fmt"
	"os"

	"github.com/tkoskela/imagevault-go/cmd"
	"github.com/tkoskela/imagevault-go/internal/conf"
	"github.com/tkoskela/imagevault-go/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load(os.Getenv("IMAGEVAULT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command error: %v\n", err)
		os.Exit(1)
	}
}
