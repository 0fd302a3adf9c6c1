package main

import "github.com/pubgraph/backend/internal/cli"

func main() {
	cli.Execute()
}
