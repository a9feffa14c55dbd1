// Package monitor defines the domain types and contracts shared by the scan
// pipeline: report entries, change classification, label derivation, and the
// store, fetcher, analyzer and relay interfaces the pipeline depends on.
package monitor
