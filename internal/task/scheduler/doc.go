// Package scheduler turns registered daily wall-clock times into task engine
// submissions. It only triggers: an occurrence is enqueued into engine.Service
// at the cron instant, and an occurrence missed while the process is down is
// never replayed.
package scheduler
