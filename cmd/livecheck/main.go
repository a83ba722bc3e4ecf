package main

import "github.com/example/livecheck/internal/cli"

func main() {
	cli.Execute()
}
