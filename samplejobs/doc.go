// Package samplejobs holds illustrative job definitions: customer welcome,
// order processing, email, data processing, and report generation. They
// show the shape of a definition, validate their payloads, and simulate
// work with scaled delays.
//
// Report generation is the synchronous variant; the rest are asynchronous
// and stop between steps when their context is cancelled.
//
//	set := samplejobs.New(logger)
//	set.RegisterAll(eng)
package samplejobs
