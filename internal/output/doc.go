// Package output renders walked records and the end-of-walk summary.
package output
