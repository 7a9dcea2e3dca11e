// Package output renders command results as aligned text tables or
// indented JSON, selected by the --output flag.
package output
