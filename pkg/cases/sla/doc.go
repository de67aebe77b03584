// Package sla runs the periodic SLA sweep over open cases.
//
// Each sweep reads the cases whose deadline falls within the at-risk window,
// escalates those already past their deadline and writes a single warning
// entry on those about to breach. A failure on one case is logged as a
// faults.SLASchedulerError and the sweep moves on to the next.
package sla
