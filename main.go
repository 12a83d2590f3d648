// Package main is the entry point for netbeep.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/netbeep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
