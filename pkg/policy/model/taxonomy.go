package model

import (
	"fmt"
	"strings"
)

// FieldCategory groups taxonomy fields.
type FieldCategory string

const (
	FieldCategoryRisk      FieldCategory = "risk_score"
	FieldCategoryDocuments FieldCategory = "documents"
	FieldCategoryEvents    FieldCategory = "events"
	FieldCategoryProfile   FieldCategory = "profile"
	FieldCategoryHistory   FieldCategory = "history"
)

// ExpiryFacet is the attribute a bare document field resolves through when a
// date is needed.
const ExpiryFacet = "expiryDate"

// DocumentAliases are document names usable at the root of a field path
// (for example "certifications.expiryDate").
var DocumentAliases = []string{
	"certifications",
	"insurance",
	"licenses",
	"tax_documents",
	"contracts",
	"bank_details",
}

// FieldSpec declares the kind of a taxonomy field pattern.
type FieldSpec struct {
	// Pattern is the dotted path; "*" matches exactly one segment.
	Pattern string

	// Kind is the declared value kind.
	Kind Kind

	// Category is the taxonomy category.
	Category FieldCategory

	// Facet is set when the field is a document group that resolves to a
	// date through one of its attributes.
	Facet string
}

var taxonomy = buildTaxonomy()

func buildTaxonomy() []FieldSpec {
	specs := []FieldSpec{
		{Pattern: "risk.score", Kind: KindNumber, Category: FieldCategoryRisk},
		{Pattern: "risk.factors.*", Kind: KindNumber, Category: FieldCategoryRisk},
		{Pattern: "risk.tier", Kind: KindString, Category: FieldCategoryRisk},
		{Pattern: "risk.creditRating", Kind: KindString, Category: FieldCategoryRisk},
		{Pattern: "risk.sanctionsFlagged", Kind: KindBool, Category: FieldCategoryRisk},
		{Pattern: "risk.adverseMediaFlagged", Kind: KindBool, Category: FieldCategoryRisk},

		{Pattern: "documents.*", Kind: KindDate, Category: FieldCategoryDocuments, Facet: ExpiryFacet},
		{Pattern: "documents.*.expiryDate", Kind: KindDate, Category: FieldCategoryDocuments},
		{Pattern: "documents.*.status", Kind: KindString, Category: FieldCategoryDocuments},
		{Pattern: "documents.*.verified", Kind: KindBool, Category: FieldCategoryDocuments},

		{Pattern: "events.*.count", Kind: KindNumber, Category: FieldCategoryEvents},
		{Pattern: "events.*.lastSeen", Kind: KindDate, Category: FieldCategoryEvents},
		{Pattern: "events.*.severity", Kind: KindString, Category: FieldCategoryEvents},
		{Pattern: "events.types", Kind: KindList, Category: FieldCategoryEvents},

		{Pattern: "profile.name", Kind: KindString, Category: FieldCategoryProfile},
		{Pattern: "profile.country", Kind: KindString, Category: FieldCategoryProfile},
		{Pattern: "profile.category", Kind: KindString, Category: FieldCategoryProfile},
		{Pattern: "profile.tier", Kind: KindString, Category: FieldCategoryProfile},
		{Pattern: "profile.paymentsBlocked", Kind: KindBool, Category: FieldCategoryProfile},
		{Pattern: "profile.reviewRequired", Kind: KindBool, Category: FieldCategoryProfile},
		{Pattern: "profile.tags", Kind: KindList, Category: FieldCategoryProfile},

		{Pattern: "history.openCases", Kind: KindNumber, Category: FieldCategoryHistory},
		{Pattern: "history.totalCases", Kind: KindNumber, Category: FieldCategoryHistory},
		{Pattern: "history.escalations", Kind: KindNumber, Category: FieldCategoryHistory},
		{Pattern: "history.lastAuditScore", Kind: KindNumber, Category: FieldCategoryHistory},
		{Pattern: "history.lastAuditDate", Kind: KindDate, Category: FieldCategoryHistory},
	}

	for _, doc := range DocumentAliases {
		specs = append(specs,
			FieldSpec{Pattern: doc, Kind: KindDate, Category: FieldCategoryDocuments, Facet: ExpiryFacet},
			FieldSpec{Pattern: doc + ".expiryDate", Kind: KindDate, Category: FieldCategoryDocuments},
			FieldSpec{Pattern: doc + ".status", Kind: KindString, Category: FieldCategoryDocuments},
			FieldSpec{Pattern: doc + ".verified", Kind: KindBool, Category: FieldCategoryDocuments},
		)
	}
	return specs
}

// Taxonomy returns a copy of the field catalogue.
func Taxonomy() []FieldSpec {
	out := make([]FieldSpec, len(taxonomy))
	copy(out, taxonomy)
	return out
}

// LookupField returns the spec whose pattern matches path.
func LookupField(path string) (FieldSpec, bool) {
	segments := strings.Split(path, ".")
	for _, spec := range taxonomy {
		if patternMatches(spec.Pattern, segments) {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

func patternMatches(pattern string, segments []string) bool {
	parts := strings.Split(pattern, ".")
	if len(parts) != len(segments) {
		return false
	}
	for i, p := range parts {
		if segments[i] == "" {
			return false
		}
		if p != "*" && p != segments[i] {
			return false
		}
	}
	return true
}

// IsDocumentAlias reports whether name is a root-level document alias.
func IsDocumentAlias(name string) bool {
	for _, doc := range DocumentAliases {
		if doc == name {
			return true
		}
	}
	return false
}

// daysUntilExpiryFunc is the field-expression spelling of TransformDaysUntilExpiry.
const daysUntilExpiryFunc = "daysUntilExpiry("

// ParseFieldExpr splits a field expression such as "daysUntilExpiry(insurance)"
// into its path and transform. Plain paths return TransformNone.
func ParseFieldExpr(expr string) (string, Transform) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, daysUntilExpiryFunc) && strings.HasSuffix(expr, ")") {
		inner := strings.TrimSuffix(strings.TrimPrefix(expr, daysUntilExpiryFunc), ")")
		return strings.TrimSpace(inner), TransformDaysUntilExpiry
	}
	return expr, TransformNone
}

// Target returns the path and transform a condition addresses. A transform
// written into the field expression wins over an empty explicit one; two
// different transforms are an authoring error.
func (c Condition) Target() (string, Transform, error) {
	path, tr := ParseFieldExpr(c.Field)
	switch {
	case tr == TransformNone:
		return path, c.Transform, nil
	case c.Transform == TransformNone || c.Transform == tr:
		return path, tr, nil
	default:
		return path, tr, fmt.Errorf("field expression transform %s conflicts with transform %s", tr, c.Transform)
	}
}
