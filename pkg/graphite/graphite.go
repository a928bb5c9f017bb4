// Package graphite is a minimal best-effort UDP side channel: on a request
// whose first argument is "update", the dispatcher sends one fire-and-forget
// notification here. No retry; a failed send is logged and dropped, matching
// the subprocess supervisor's own no-retry policy.
package graphite

import (
	"fmt"
	"net"
	"time"

	"github.com/andante-project/yadtreceiver/pkg/log"
)

// Notifier sends one-shot UDP notifications to a graphite-compatible sink.
type Notifier struct {
	host string
	port int
	// dialTimeout bounds how long Notify will block attempting to dial; the
	// write itself is UDP and does not block on the peer.
	dialTimeout time.Duration
}

// New constructs a Notifier targeting host:port.
func New(host string, port int) *Notifier {
	return &Notifier{host: host, port: port, dialTimeout: 2 * time.Second}
}

// Notify sends a single best-effort "yadtreceiver.update.<target> 1 <unix
// time>" line to the notifier's host:port. Errors are logged, not returned
// or retried.
func (n *Notifier) Notify(target string) {
	addr := net.JoinHostPort(n.host, fmt.Sprintf("%d", n.port))
	conn, err := net.DialTimeout("udp", addr, n.dialTimeout)
	if err != nil {
		log.WithComponent("graphite").Warn().Err(err).Str("target", target).Msg("graphite notify dial failed")
		return
	}
	defer conn.Close()

	line := fmt.Sprintf("yadtreceiver.update.%s 1 %d\n", target, time.Now().Unix())
	if _, err := conn.Write([]byte(line)); err != nil {
		log.WithComponent("graphite").Warn().Err(err).Str("target", target).Msg("graphite notify write failed")
	}
}
