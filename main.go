package main

import (
	"github.com/anoixa/image-proxy/cmd"
)

func main() {
	cmd.Execute()
}
