package main

import "github.com/aweris/gallery/cmd/gallery/cmd"

func main() {
	cmd.Execute()
}
