package main

import (
	"fmt"
	"os"
)

const (
	defaultConfigPath = "configs/scribe.yaml"
	serviceName       = "meeting-scribe"
	serviceVersion    = "1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
