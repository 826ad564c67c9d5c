package main

import (
	"log"
)

const HelpBanner = `
┬┬─┐┬┌─┐┬  ┬┬┌─┐┬ ┬
│├┬┘│└─┐└┐┌┘│├┤ │││
┴┴└─┴└─┘ └┘ ┴└─┘└┴┘

Iris tracking and eyewear classification.
    Version: %s

`

// Version indicates the current build version.
var Version string

func main() {
	log.SetFlags(0)

	Execute()
}
