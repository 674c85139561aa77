package main

import "github.com/agentic-research/scagg/cmd"

func main() {
	cmd.Execute()
}
