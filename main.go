package main

import "github.com/bnema/wowpkg/cmd"

func main() {
	cmd.Execute()
}
