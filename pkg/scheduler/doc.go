/*
Package scheduler is the agent's cooperative timer wheel: three recurring,
self-rearming timers (metrics flush every 30s, metrics reset at the next
local midnight, connection refresh every hour with a 02:00 guard) plus Arm,
a one-shot cancellable timer the dispatcher uses for per-election showdown
deadlines.

Every recurring timer follows the same first_call pattern: the first tick
after Start re-arms the timer without invoking its action, so nothing fires
immediately at process startup.
*/
package scheduler
