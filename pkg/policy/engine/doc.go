// Package engine evaluates compliance policies against vendor facts and
// executes the actions of the policies that fire.
//
// # Architecture
//
// The engine uses a three-layer design:
//
//  1. Evaluator - decides a single condition against a fact set
//  2. Matcher - folds a policy's conditions and selects the matching policies of a Snapshot
//  3. Executor - runs matched policies' actions against case, vendor, alert and webhook collaborators
//
// # Evaluation Flow
//
//	Signal recorded → vendor FactSet
//	       ↓
//	registry.Snapshot() (immutable, sorted by priority then id)
//	       ↓
//	For each active, approved, effective policy:
//	  fold conditions left to right (AND / OR, no precedence)
//	    matched → MatchedPolicy
//	       ↓
//	For each match, in order:
//	  For each action, in authored order:
//	    execute → ActionResult (failures recorded, never fatal)
//
// # Conditions
//
// Fields are dotted taxonomy paths such as "risk.score" or
// "documents.insurance.expiryDate". A document group used where a date is
// needed resolves through its expiry date, so "insurance" and
// "insurance.expiryDate" are interchangeable. The days_until_expiry
// transform (also written "daysUntilExpiry(insurance)") compares the whole
// number of days left before a date, which is negative once it has passed.
//
// # Basic Usage
//
//	snapshot := engine.NewSnapshot(policies, time.Now())
//	matcher := engine.NewMatcher(logger, nil)
//	executor, err := engine.NewExecutor(engine.Dependencies{
//	    Cases:   caseManager,
//	    Vendors: profiles,
//	    Alerter: alerter,
//	}, nil, logger)
//	if err != nil {
//	    return err
//	}
//
//	eng := engine.New(matcher, executor, logger)
//	eval := eng.Evaluate(ctx, snapshot, vendorID, factSet, event, time.Now(), true)
//
// # Thread Safety
//
// Evaluator, Matcher and Snapshot are immutable and safe for concurrent use.
// The Executor is safe for concurrent use when its collaborators are.
package engine
