// Package inheritance implements the inheritance plan lifecycle: a vault
// owner designates trustees holding opaque recovery shares and beneficiaries
// entitled to those shares once enough trustees approve.
//
// A plan moves through active -> ready -> triggered -> completed, with
// active -> cancelled as the only other exit and deletion permitted only
// while active. The ready status is a cached view of the approval count and
// is never trusted: triggering re-reads approvals from storage and
// re-validates the threshold and the waiting period.
//
// All mutations for one plan are serialized by a keyed mutex so approval
// counting and status transitions never race. Every mutation emits an audit
// event; audit failures are logged and counted but never fail the mutation.
package inheritance
