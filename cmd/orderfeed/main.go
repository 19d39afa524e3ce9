// Command orderfeed prints live order events from a running server. It is
// the terminal version of the driver panel's live list.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pizzeria-app/storefront/internal/realtime"
)

func main() {
	_ = godotenv.Load(".env")

	url := flag.String("url", "", "Websocket URL of the order feed")
	token := flag.String("token", "", "Driver or admin access token")
	flag.Parse()

	if *url == "" {
		*url = os.Getenv("ORDERFEED_URL")
	}
	if *token == "" {
		*token = os.Getenv("ORDERFEED_TOKEN")
	}
	if *url == "" {
		*url = "ws://localhost:8080/ws/orders"
	}
	if *token == "" {
		log.Fatal("an access token is required (-token or ORDERFEED_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Listening on %s", *url)
	err := realtime.Dial(ctx, *url, *token, func(ev realtime.Event) {
		log.Printf("%-20s %s", ev.Type, ev.Payload)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("feed closed: %v", err)
	}
}
