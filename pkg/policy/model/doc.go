// Package model defines compliance policies, their conditions and actions,
// the typed Value variant used for literals and facts, and the fixed field
// taxonomy conditions are written against.
//
// Values are a closed tagged variant (number, string, bool, date, list) so
// that operator semantics can be checked exhaustively. Action configs are a
// closed set of structs, one per action type, decoded and checked when a
// policy is authored rather than when it fires.
package model
