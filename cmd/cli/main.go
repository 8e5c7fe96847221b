// Package main is the entry point for the sellwatch CLI.
// sellctl is the operator tool for inspecting jobs, backfilling tenants
// and recovering the control tables after an incident.
package main

import (
	"os"
	"sellwatch/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
