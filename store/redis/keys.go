package redis

import (
	"fmt"
	"time"
)

// Redis key naming conventions for cadence data.
// All keys are prefixed with "cadence:" to avoid collisions.

const defaultPrefix = "cadence:"

type keys struct {
	prefix string
}

// ── Job keys ──

// job returns the Hash key for a job: cadence:job:{id}
func (k keys) job(id string) string { return k.prefix + "job:" + id }

// jobPrefix is what the scripts prepend to a job ID.
func (k keys) jobPrefix() string { return k.prefix + "job:" }

// jobIDs is the Set tracking all job IDs for enumeration.
func (k keys) jobIDs() string { return k.prefix + "job_ids" }

// due is the Sorted Set of enabled jobs scored by next fire time.
func (k keys) due() string { return k.prefix + "due" }

// claims is the Sorted Set of claimed jobs scored by lease expiry.
func (k keys) claims() string { return k.prefix + "claims" }

// slot returns the String key holding a job's in-flight slot holder.
func (k keys) slot(jobID string) string { return k.prefix + "slot:" + jobID }

// ── Ledger keys ──

// attempt returns the Hash key for an attempt: cadence:attempt:{runID}
func (k keys) attempt(runID string) string { return k.prefix + "attempt:" + runID }

// ledger returns the uniqueness key for (job, scheduled time, attempt).
func (k keys) ledger(jobID string, scheduled time.Time, number int) string {
	return fmt.Sprintf("%sledger:%s:%d:%d", k.prefix, jobID, scheduled.UnixNano(), number)
}

// jobAttempts returns the Sorted Set of one job's attempts scored by
// scheduled time.
func (k keys) jobAttempts(jobID string) string { return k.prefix + "attempts:" + jobID }

// allAttempts is the Sorted Set of every attempt scored by scheduled time.
func (k keys) allAttempts() string { return k.prefix + "attempts" }

// score maps a time onto a Sorted Set score. Microseconds stay exact in a
// float64 for any realistic date.
func score(t time.Time) float64 { return float64(t.UnixMicro()) }
