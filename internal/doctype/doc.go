// Package doctype holds the registry of known document types.
//
// The registry maps each type to its filing behavior: whether it belongs to
// a series, the series key template, classifier hints, and the output path
// template. It is loaded once at startup from a YAML file and read-only
// afterwards; a missing file falls back to a built-in default set.
package doctype
