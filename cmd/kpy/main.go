// cmd/kpy/main.go
//
// Entry point for the kpy CLI. Every subcommand lives in this package; with
// no subcommand and a terminal on stdout the addon manager TUI starts.

package main

func main() {
	Execute()
}
