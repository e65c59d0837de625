package main

import (
	"os"

	"github.com/ljm625/decky-sbox/cmd/decky-sbox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
