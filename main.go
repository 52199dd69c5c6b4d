package main

import (
	"os"

	"github.com/xiaot623/gogo/chatvault/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
