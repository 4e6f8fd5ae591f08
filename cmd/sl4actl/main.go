package main

import (
	"fmt"
	"os"

	"sl4a-rpc/cmd/sl4actl/command"
)

func main() {
	if err := command.NewRootCommandeer().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}

	os.Exit(0)
}
