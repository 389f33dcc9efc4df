package main

import (
	"os"

	"github.com/Raziel0714/daisyStockAnalysis/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
