package main

import (
	"log"
	"os"

	"github.com/m3rciful/flowbot/core/cmd"
)

func main() {
	err := cmd.Run(cmd.Options{
		DefaultConfigPath: "config.yaml",
		Args:              os.Args[1:],
	})
	if err != nil {
		log.Fatal(err)
	}
}
