// Command mrag is the entry point for manifesto retrieval: it ingests
// pre-chunked manifesto text into a vector store, answers retrieval queries
// from the command line and serves the same operations over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/manifesto-rag/cmd/mrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
