package main

import "safestock/cmd"

func main() {
	cmd.Execute()
}
