// Package job defines the job record, its state machine, typed job
// definitions, payload codecs, and the store contract.
//
// # Job Record
//
// A [Job] is one invocation of a definition. It embeds [ferry.Entity] for
// timestamps and carries the encoded payload plus the caller-supplied
// invocation id used for log correlation. States progress as:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//	pending | retrying → cancelled
//
// # Defining a Job
//
// A [Definition] binds a name and description to one payload type. Two
// calling conventions exist:
//
//	// Asynchronous: receives a context that is cancelled on timeout or
//	// shutdown and should be checked between steps.
//	var Welcome = job.NewAsync("customer-welcome", "Sends the welcome email",
//	    func(ctx context.Context, invocationID string, p WelcomePayload) error {
//	        return mailer.Send(ctx, p.EmailAddress, "Welcome")
//	    },
//	)
//
//	// Synchronous: blocks the worker until it returns.
//	var Report = job.NewSync("report", "Builds a report",
//	    func(invocationID string, p ReportPayload) error { ... },
//	)
//
// # Parameter Contract
//
// Payloads cross the store as bytes. Before the handler runs, the registry
// decodes them with a [Codec]. An empty or null payload, a payload that
// does not fit the type, or one whose [Validator] fails, is rejected with
// an error wrapping [ferry.ErrParameterContract].
package job
