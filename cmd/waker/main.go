package main

import "waker/internal/cli"

func main() {
	cli.Execute()
}
