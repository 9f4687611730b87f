package main

import (
	"github.com/aexvir/launchpad"
)

func main() {
	launchpad.Exit(rootCmd().Execute())
}
