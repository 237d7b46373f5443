// Package app provides the application service layer.
//
// ScanService orchestrates the ingestion use case: validate, persist, then fan
// out to local subscribers and other instances. It sits between the HTTP
// handlers and the adapters and depends on domain interfaces only.
package app
