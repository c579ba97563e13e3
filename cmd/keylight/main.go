package main

import (
	"fmt"
	"os"
)

func main() {
	err := rootCmd.Execute()
	if n := drainNotices(os.Stderr); n == 0 && err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if err != nil {
		os.Exit(1)
	}
}
