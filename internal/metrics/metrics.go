package metrics

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/heatctl/heatctl/internal/config"
)

var dogstatsd *statsd.Client

// Init creates the DogStatsD client. Emission is nil-safe, so a failed or
// skipped init leaves every Gauge/Count call a no-op.
func Init(cfg *config.Config) {
	if !cfg.EnableStatsd {
		return
	}

	var err error
	dogstatsd, err = statsd.New(cfg.StatsdAgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	dogstatsd.Namespace = cfg.StatsdNamespace
	dogstatsd.Tags = cfg.StatsdTags

	log.Info().
		Str("addr", cfg.StatsdAgentAddr).
		Str("namespace", cfg.StatsdNamespace).
		Strs("tags", cfg.StatsdTags).
		Msg("Statsd metrics initialized")
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Gauge(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

func Count(name string, value int64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Count(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
		}
	}
}
