package main

import (
	"os"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/splitkv"
)

// main simply calls the splitkv package's Cli() function
func main() {
	config := splitkv.NewCliConfig()
	rc, err := splitkv.Cli(os.Args[1:], config)
	Ck(err)
	os.Exit(rc)
}
