// Package detect finds known coding patterns in source files.
//
// A Catalog holds regex rules keyed by a stable ID. Each rule belongs to a
// language and fires only for files with that language's extensions (or
// the rule's own extension list). Builtin returns the bundled catalog;
// LoadCatalog reads a YAML one.
package detect
