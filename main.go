package main

import "github.com/tillfalko/interpolation-engine/cmd"

func main() {
	cmd.Execute()
}
