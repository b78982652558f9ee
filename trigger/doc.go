// Package trigger computes fire times for job schedules.
//
// Four schedule kinds are supported:
//   - cron: standard 5-field expression (e.g., "0 9 * * 1-5") or a
//     descriptor such as "@daily" or "@every 30m"
//   - interval: a fixed period measured from an anchor instant
//   - date: a single fire time
//   - calendar: times of day on days selected by an ordered list of
//     include and exclude rules
//
// Every computation is a pure function of the schedule, the IANA timezone
// and a reference instant. Cron and calendar schedules are evaluated on
// wall-clock fields in the target timezone. A local time that does not
// exist (spring-forward gap) resolves to the first valid instant after the
// gap. A local time that occurs twice (fall-back overlap) resolves to the
// earlier instant.
//
// The [Engine] also expands missed occurrences for catch-up ([Engine.Between])
// and previews upcoming fire times ([Engine.Preview]).
package trigger
