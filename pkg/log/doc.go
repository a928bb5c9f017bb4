/*
Package log provides structured logging via zerolog: a global logger
configured once with log.Init, plus component-, target-, and tracking-id
scoped child loggers for tagging log lines as they flow through the
dispatcher, supervisor, scheduler, and bus adapter.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.WithComponent("dispatcher").Info().Msg("dispatcher started")
	log.WithTarget("dev01").Debug().Msg("subscribed")
	log.WithTrackingID("T1").Warn().Err(err).Msg("election anomaly")
	log.WithRequest("dev01", "T1").Error().Msg("spawn failed")
*/
package log
