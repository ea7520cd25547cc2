// Package memory provides a mutex-guarded, in-process implementation of
// authcore.Store for tests, examples, and single-node deployments.
//
// UpdateUser holds the store lock while the update function runs, so updates
// to the same user are serialized and never lost. Records are deep-copied on
// every read and write.
package memory
