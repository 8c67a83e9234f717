package main

import (
	"lavabridge/cmd"
)

func main() {
	cmd.Execute()
}
