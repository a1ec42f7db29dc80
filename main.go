package main

import "github.com/Leavesfly/TinyClaw-sub001/cmd"

func main() {
	cmd.Execute()
}
