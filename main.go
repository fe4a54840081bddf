package main

import "github.com/Fender1992/cachegpt-sub001/cmd"

func main() {
	cmd.Execute()
}
