package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/syncbox/internal/client/cli"
	"github.com/dmitrijs2005/syncbox/internal/client/config"
)

func main() {

	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.Run(context.Background()); err != nil {
		os.Exit(1)
	}

}
