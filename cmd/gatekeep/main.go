package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/chandanmad/gatekeep/internal/gateway/app"
	"github.com/chandanmad/gatekeep/internal/gateway/config"
)

func main() {
	conf := flag.String("conf", "", "path to the server configuration file (overrides env vars)")
	flag.Parse()

	cfg, err := config.LoadWithFile(*conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(context.Background(), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
