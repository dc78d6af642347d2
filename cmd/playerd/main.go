// Package main is playerd, which keeps live stream players in in-window
// fullscreen at the best quality and keeps pages with many videos responsive.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() //nolint:errcheck // .env is optional
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
