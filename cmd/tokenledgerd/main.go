// Command tokenledgerd serves the tokenledger HTTP API backed by the
// in-memory store. It is meant for local development and demos; production
// deployments embed the engine through the forge extension with a grove store.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
