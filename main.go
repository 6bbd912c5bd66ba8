package main

import "github.com/freeitw/freeitw/cmd"

func main() {
	cmd.Execute()
}
