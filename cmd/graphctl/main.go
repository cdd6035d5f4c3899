// Package main is the entry point for the graphctl CLI.
package main

import "github.com/graphctl/graphctl/internal/cli"

func main() {
	cli.Execute()
}
