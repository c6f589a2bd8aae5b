package main

import (
	"os"

	"personal/discord_gateway/src/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
