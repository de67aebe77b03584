// Package validator checks authored policies before they are stored.
//
// Three passes run over every policy and their problems are reported
// together in a single *faults.ValidationError:
//
//   - structure: name, category, priority, size limits and the
//     active-implies-approved rule
//   - conditions: every field must exist in the field taxonomy and every
//     literal must fit the field kind and operator
//   - actions: every action must carry the typed config for its type with
//     all required keys present
//
// Normalize also rewrites "daysUntilExpiry(field)" expressions into a
// path plus transform and converts date strings into date values, so the
// stored form is the one the engine evaluates.
package validator
