package main

import (
	"fmt"
	"os"

	"github.com/aussiebroadwan/graphauth/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine, the environment may already be set
	_ = godotenv.Load(".env")

	cfg := cli.LoadConfig()
	if err := cli.Execute(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "graphauth: %v\n", err)
		os.Exit(1)
	}
}
