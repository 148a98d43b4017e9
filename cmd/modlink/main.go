package main

import "github.com/nfrund/modlink/cmd/modlink/cmd"

func main() {
	cmd.Execute()
}
