// Package upstream performs single streaming fetch attempts against one
// repository endpoint at a time and classifies every outcome: not found (try
// the next endpoint), transient (network trouble, timeouts, 5xx — also try
// the next endpoint) or fatal (protocol violations). It owns the outbound
// network call only; writing fetched bytes anywhere is the pipeline's job.
package upstream
