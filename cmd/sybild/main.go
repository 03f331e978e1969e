package main

import (
	"os"

	"cosmossdk.io/log"

	"github.com/aethelred/sybilguard/cmd/sybild/cmd"
)

func main() {
	rootCmd := cmd.NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		log.NewLogger(os.Stderr).Error("failure when running sybild", "err", err)
		os.Exit(1)
	}
}
