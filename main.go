package main

import (
	"context"
	"os"

	"github.com/rb3ckers/restdispatch/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx := log.Logger.WithContext(context.Background())
	cmd.Execute(ctx)
}
