// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (scan.go, errors.go) hold shared types and the
// contracts between the ingestion service and its adapters. No implementation
// code, just contracts. Interfaces live here to prevent circular imports.
package domain
