package main

import "github.com/theMackabu/volt/cmd/volt/cmd"

func main() {
	cmd.Execute()
}
