// Package recovery tracks long-running operations so an interrupted run can
// be resumed.
//
// Every operation moves through a small state machine:
//
//	in_progress -> completed
//	in_progress -> failed -> in_progress   (retry, bounded)
//
// A state is persisted before the guarded work starts, so a crash leaves it
// in_progress and ListIncompleteOperations finds it on the next start.
// Failed operations are only retried when the caller starts them again.
package recovery
