package main

import (
	"fmt"
	"os"

	"github.com/kohaku-dig/image-broker/internal/cmd"
)

func main() {
	command := cmd.NewRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
