// Command harvester samples identifiers from the catalog API and stores full
// detail records for as many of them as the request budget allows.
package main

import (
	"os"

	"github.com/Sternrassler/catalog-harvester/internal/config"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Invalid environment configuration")
		os.Exit(2)
	}

	if err := newRootCmd(&cfg).Execute(); err != nil {
		log.Error().Err(err).Msg("Harvest failed")
		os.Exit(1)
	}
}
