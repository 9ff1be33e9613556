// Command relaystreamd serves virtual byte-addressable media streams backed
// by a chat/messaging RPC transport.
package main

import (
	"fmt"
	"os"

	"github.com/relaystream/core/cmd/relaystreamd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
