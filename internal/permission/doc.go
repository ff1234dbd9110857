// Package permission implements the human approval step for tool calls that
// policy marks as "prompt".
//
// # Registry
//
// A Registry owns the table of outstanding requests. RequestConfirmation
// stores a request and returns a channel that receives exactly one
// Resolution:
//
//	reg := permission.NewRegistry(permission.WithPublisher(bus))
//	id, done := reg.RequestConfirmation(ctx, permission.Info{
//		Type:      permission.PermBash,
//		SessionID: "session-123",
//		Title:     "ls -la",
//	}, permission.AskContext{Timeout: 2 * time.Minute})
//
//	// elsewhere, usually an HTTP handler or a terminal prompt
//	reg.Respond(id, permission.ResponseOnce)
//
//	res := <-done
//
// The first of Respond, the AskContext timeout and cancellation of ctx wins.
// A timeout or cancellation resolves the request as undetermined, which is
// not the same as a reject. Whatever wins removes the request from the table,
// so a late Respond or a cancellation after a response is a logged no-op.
//
// Ask wraps the same flow in a blocking call that returns a *RejectedError
// unless the call was approved.
//
// # Approvals
//
// The registry reports "always" as a response value only. Approvals is the
// session memory that turns it into future auto-approval. Command lines are
// parsed with mvdan.cc/sh into simple commands, each remembered as a pattern:
//
//	"git commit -m 'fix'"  ->  "git commit *"
//	"ls -la"               ->  "ls -la"
//
// A later line is covered only when every command in it, including those in
// pipelines and substitutions, matches an approved pattern.
//
// # Events
//
// With a publisher configured the registry emits permission.asked when a
// request is stored and permission.replied when it resolves, with response
// once, always, reject or undetermined.
//
// # Thread Safety
//
// Registry and Approvals are safe for concurrent use.
package permission
