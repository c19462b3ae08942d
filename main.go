package main

import "github.com/endorses/wirecat/cmd"

func main() {
	cmd.Execute()
}
