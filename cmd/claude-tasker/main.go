package main

import "github.com/kylemclaren/claude-tasker/internal/cli"

func main() {
	cli.Execute()
}
