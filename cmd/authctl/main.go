// Command authctl runs maintenance tasks against the auth store.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := NewRootCmd(defaultBackend).Execute(); err != nil {
		os.Exit(1)
	}
}
