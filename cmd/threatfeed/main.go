package main

import "threatfeed/internal/cli"

func main() {
	cli.Execute()
}
