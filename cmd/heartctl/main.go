// Command heartctl is the operator CLI for Heartline: schema migrations,
// demo data and match diagnostics.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
