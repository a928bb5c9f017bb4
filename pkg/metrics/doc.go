/*
Package metrics owns two things: the process-wide string→int64 counter
registry required by the request-handling pipeline (Registry, with its
file-snapshot Flush and daily Reset), and a Prometheus mirror of the same
counters exposed over /metrics for dashboards and alerting.

Reserved counter keys: voting_wins, voting_folds, commands_started.<target>,
commands_failed.<target>, commands_finished.<target>, last_write_duration.

health.go additionally exposes /health, /ready, /live HTTP handlers; the
"bus" component is the sole readiness-critical dependency for this agent.
*/
package metrics
