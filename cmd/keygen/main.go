// Command keygen generates a random API key for the session API.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

func main() {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	fmt.Printf("API Key: %s\n", key)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Println("  server:")
	fmt.Printf("    api_key: %q\n", key)
	fmt.Println("\nor export it:")
	fmt.Printf("  export SHIFT_SERVER_API_KEY=%s\n", key)
}
