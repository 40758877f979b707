package main

import (
	"fmt"
	"os"

	"github.com/hackerby888/qubic-core-lite/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
