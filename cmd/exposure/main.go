package main

import (
	"fmt"
	"os"

	"github.com/MrSnakeDoc/exposure/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ exposure: %v\n", err)
		os.Exit(1)
	}
}
