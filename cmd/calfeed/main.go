package main

import "calfeed/cmd/calfeed/cmd"

func main() {
	cmd.Execute()
}
