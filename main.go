package main

import "hlsgate/cmd"

func main() {
	cmd.Execute()
}
