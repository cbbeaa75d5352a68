// Package types holds the data model shared across every workflow package
// in this module (spec §3): the shapes that cross a package boundary, but
// none of the behavior that produces or consumes them.
package types
