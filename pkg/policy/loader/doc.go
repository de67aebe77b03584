// Package loader reads policy definitions from YAML or JSON files and
// syncs them into the policy registry.
//
// Each file may hold several YAML documents separated by "---"; every
// document is one policy and is validated against an embedded JSON Schema
// before it is decoded. A Watcher reruns the sync when files change.
//
// Example policy file:
//
//	id: expired-iso-cert
//	name: Expired ISO certification
//	category: compliance
//	priority: 80
//	conditions:
//	  - field: documents.iso_27001.expiryDate
//	    operator: is_expired
//	actions:
//	  - type: create_case
//	    config:
//	      caseType: document_expired
//	      severity: high
package loader
