// Package jobs is the scheduling facade: the one entry point application
// code uses to submit work.
//
// A [Service] holds only an engine handle. Every call encodes parameters
// with the engine's codec and makes a single synchronous round trip; there
// is no local buffering. Submission never fails because a job is busy.
// Queuing is the engine's job.
//
//	svc := jobs.New(eng)
//	jobID, err := jobs.Enqueue(ctx, svc, samplejobs.CustomerWelcome, "welcome-42",
//	    samplejobs.CustomerWelcomeParams{CustomerID: 42, CustomerName: "A", EmailAddress: "a@example.com"})
//
//	_, err = jobs.CreateRecurring(ctx, svc, samplejobs.ReportGeneration, "daily-report",
//	    "0 2 * * *", params)
//
// Invocation ids are caller-chosen and used for correlation only. Two
// submissions with the same invocation id create two jobs.
package jobs
