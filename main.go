// Command signflow runs the signing gateway: provider webhooks, the client
// API and the outbound request gateway.
package main

import (
	"log"

	"signflow/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
