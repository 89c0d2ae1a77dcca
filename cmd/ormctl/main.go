package main

import "ormdash.org/internal/cli"

func main() {
	cli.Execute()
}
