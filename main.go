package main

import "wecomgw/cmd"

func main() {
	cmd.Execute()
}
