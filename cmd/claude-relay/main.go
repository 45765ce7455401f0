package main

import "github.com/nghyane/claude-relay/internal/cli"

func main() {
	cli.Execute()
}
