package main

import "github.com/verity-sec/verity/cmd/verity/cmd"

func main() {
	cmd.Execute()
}
