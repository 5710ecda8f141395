// Package tools defines the tool model and the read-only registry the
// dispatcher resolves tool calls against.
package tools
