// conversa is the operator CLI for the assistant service: send test
// messages, ingest documents, inspect retrieval and drive context cleanup
// over the HTTP API.
package main

import (
	"log"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
