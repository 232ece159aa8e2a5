package main

import "github.com/sonata-music/sonata/internal/cli"

func main() {
	cli.Execute()
}
