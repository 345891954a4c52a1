// p2pctl is an offline inspection tool for the multiplexing engine's
// address types: decoding multiaddrs and exercising the bounded
// known-address set without a running daemon.
package main

import "github.com/meshward/p2pmux/cmd/p2pctl/commands"

func main() {
	commands.Execute()
}
