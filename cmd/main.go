package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Str("module", "cli").Msg("command failed")
		os.Exit(1)
	}
}
