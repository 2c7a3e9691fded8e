package main

import (
	"context"
	"log"
	"os"
	"time"
)

const stopTimeout = 15 * time.Second

func main() {
	app := NewApp(Terminal{In: os.Stdin, Out: os.Stdout})

	if err := app.Start(context.Background()); err != nil {
		log.Printf("start: %v", err)
		os.Exit(1)
	}

	<-app.Done()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		log.Printf("stop: %v", err)
		os.Exit(1)
	}
}
