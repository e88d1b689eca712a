package main

import (
	"github.com/etrobot/gpt-trader/cli"
)

func main() {
	cli.Execute()
}
