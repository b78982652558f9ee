// Package evaluator turns due jobs into occurrences.
//
// Each Evaluator polls the job store on an interval, or sooner when woken
// with Notify. A pass claims due jobs under a lease, expands the
// occurrences missed since the stored next fire time according to the
// job's catch-up policy, gates each occurrence on its dependencies and
// hands ready occurrences to the coordinator intake. The claim is then
// confirmed with the next fire time, which releases it.
//
// The claim is the only mutual exclusion between evaluators. Any number
// of evaluators in any number of processes may share one store; a job is
// evaluated by at most one of them at a time. A lease that outlives its
// evaluator is returned to the pool by the reaper.
//
// Occurrences blocked on dependencies are not held between passes. The
// claim is released and the job stays due, so the next pass checks again
// until the dependency timeout passes and the occurrence is recorded as
// failed with reason DependencyTimeout.
package evaluator
