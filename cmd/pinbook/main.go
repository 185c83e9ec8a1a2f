package main

import (
	"log"

	"github.com/MrSnakeDoc/pinbook/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("❌ pinbook failed to initialize: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("❌ pinbook failed to start: %v", err)
	}
}
