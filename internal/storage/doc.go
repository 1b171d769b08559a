// Package storage archives the logs collected by each monitoring session.
//
// Every session's log is saved before it is published, and the publish
// outcome is recorded afterwards, so a failed upload can be inspected or
// replayed later.
package storage
