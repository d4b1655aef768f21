package main

import "github.com/xebook/readium-encrypt/cmd"

func main() {
	cmd.Execute()
}
