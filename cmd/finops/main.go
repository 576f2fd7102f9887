package main

import "github.com/ogulcanaydogan/finops-hub/internal/cli"

func main() {
	cli.Execute()
}
