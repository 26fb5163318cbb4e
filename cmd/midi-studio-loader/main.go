package main

import "github.com/petitechose/midi-studio-loader/cmd/midi-studio-loader/cmd"

func main() {
	cmd.Execute()
}
