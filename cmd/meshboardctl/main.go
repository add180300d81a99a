// Meshboardctl is the operator CLI for the meshboard daemon.
package main

import "github.com/meshboard/meshboard/cmd/meshboardctl/commands"

func main() {
	commands.Execute()
}
