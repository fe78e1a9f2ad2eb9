// Package ext defines the extension system for ferry.
//
// Extensions are notified of engine events and can react to them:
// recording metrics, writing audit trails, paging on failures. Each hook
// is a separate interface so extensions opt in only to the events they
// care about.
//
// # Implementing an Extension
//
//	type Pager struct{ client *pager.Client }
//
//	func (p *Pager) Name() string { return "pager" }
//
//	func (p *Pager) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
//	    return p.client.Alert(ctx, j.Name, err)
//	}
//
// # Hooks
//
//   - [JobEnqueued]: a job was accepted by the store
//   - [JobStarted]: a worker began executing a job
//   - [JobCompleted]: a job finished successfully
//   - [JobFailed]: a job failed with no retries remaining
//   - [JobRetrying]: a job failed and will be retried
//   - [JobCancelled]: a pending job was cancelled
//   - [RecurringFired]: a recurring definition enqueued a run
//   - [Shutdown]: the engine is stopping
//
// Hook errors are logged and never propagated; an extension cannot fail
// a job or a submission.
package ext
