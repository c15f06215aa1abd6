// Package export materializes parsed shorthand instances into complete,
// schema-consistent JSON documents.
//
// An Exporter owns the schema, entity, and terminology services plus the
// option set. A BatchContext carries the state one batch shares: the
// entity catalog, the memo table for inline instances, and the document
// id registry. ExportInstance folds one instance's rules into a value
// tree, fills in the schema's fixed and patterned content, audits
// occurrence bounds, and returns the finished document together with its
// diagnostics. ExportBatch does the same for every non-inline instance
// of a catalog, in catalog order.
package export
