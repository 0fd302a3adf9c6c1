package main

import (
	"fmt"
	"os"

	"github.com/pubgraph/backend/internal/app"
	"github.com/pubgraph/backend/internal/server"
)

func main() {
	cfg, err := app.LoadConfig("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	flush := app.InitLogger(cfg.Logging)
	defer flush()

	server.Init(cfg)
}
