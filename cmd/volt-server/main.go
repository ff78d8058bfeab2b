package main

import "github.com/theMackabu/volt/cmd/volt-server/cmd"

func main() {
	cmd.Execute()
}
