package main

import "openbook/internal/cli"

func main() {
	cli.Execute()
}
