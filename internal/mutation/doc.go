// Package mutation applies label and state changes to sets of messages.
//
// Id-based operations are split into chunks no larger than the provider's
// batch limit and every chunk is attempted, so a failed chunk never hides the
// outcome of the others. Report always carries attempted, succeeded and
// failed counts.
//
// TrashByQuery moves every message matching a query to the trash without the
// caller listing ids first. Trashing shrinks the result set while it is being
// iterated, so continuation tokens cannot be trusted. Each round re-runs the
// search from scratch, trashes the returned page, and the loop only ends
// after two consecutive searches come back empty or the ceiling is reached.
package mutation
