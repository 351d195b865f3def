package main

import "github.com/emrgen/panelcraft/cmd"

func main() {
	cmd.Execute()
}
