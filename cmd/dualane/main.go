package main

import "github.com/ppiankov/dualane/internal/cli"

func main() {
	cli.Execute()
}
