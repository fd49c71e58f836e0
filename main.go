package main

import "agency-sales-monitor/internal/cli"

func main() {
	cli.Execute()
}
