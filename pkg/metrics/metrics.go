package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VotingWins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yadtreceiver_voting_wins_total",
			Help: "Elections this replica won and executed",
		},
	)

	VotingFolds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "yadtreceiver_voting_folds_total",
			Help: "Elections this replica folded (a higher peer vote was seen)",
		},
	)

	CommandsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadtreceiver_commands_started_total",
			Help: "Deployment commands started, by target",
		},
		[]string{"target"},
	)

	CommandsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadtreceiver_commands_failed_total",
			Help: "Deployment commands failed, by target",
		},
		[]string{"target"},
	)

	CommandsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yadtreceiver_commands_finished_total",
			Help: "Deployment commands finished with exit code 0, by target",
		},
		[]string{"target"},
	)

	LastWriteDurationMillis = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "yadtreceiver_metrics_last_write_duration_ms",
			Help: "Duration of the last metrics file snapshot write, in milliseconds",
		},
	)
)

func init() {
	prometheus.MustRegister(
		VotingWins,
		VotingFolds,
		CommandsStarted,
		CommandsFailed,
		CommandsFinished,
		LastWriteDurationMillis,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// mirrorIncrement reflects a Registry.Inc call into the corresponding
// Prometheus metric. Reserved per-target keys are dotted ("commands_started.dev01");
// everything else must be one of the fixed reserved counter names.
func mirrorIncrement(key string) {
	switch {
	case key == "voting_wins":
		VotingWins.Inc()
	case key == "voting_folds":
		VotingFolds.Inc()
	case strings.HasPrefix(key, "commands_started."):
		CommandsStarted.WithLabelValues(strings.TrimPrefix(key, "commands_started.")).Inc()
	case strings.HasPrefix(key, "commands_failed."):
		CommandsFailed.WithLabelValues(strings.TrimPrefix(key, "commands_failed.")).Inc()
	case strings.HasPrefix(key, "commands_finished."):
		CommandsFinished.WithLabelValues(strings.TrimPrefix(key, "commands_finished.")).Inc()
	}
}

// mirrorSet reflects a directly-set value (last_write_duration) into its
// Prometheus gauge.
func mirrorSet(key string, value float64) {
	if key == reservedLastWriteDuration {
		LastWriteDurationMillis.Set(value)
	}
}
