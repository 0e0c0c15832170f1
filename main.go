package main

import "github.com/ov-project/govmd/cmd"

func main() {
	cmd.Execute()
}
