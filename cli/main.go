package main

import "vpnfleet/cli/cmd"

func main() {
	cmd.Execute()
}
