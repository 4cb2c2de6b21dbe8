package main

import "botgate/cmd"

func main() {
	cmd.Execute()
}
