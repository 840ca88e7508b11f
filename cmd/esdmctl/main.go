// esdmctl is the control CLI for the ESDM daemon. It speaks the framed
// RPC protocol over the daemon's Unix sockets; privileged operations go
// through the root-only control socket.
package main

import "esdmd/cmd/esdmctl/cmd"

func main() {
	cmd.Execute()
}
