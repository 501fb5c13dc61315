package main

import "github.com/yapay-ai/token-usage-watchdog/internal/cli"

func main() {
	cli.Execute()
}
