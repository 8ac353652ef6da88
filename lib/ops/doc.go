// Package ops implements the operations the HTTP front end exposes on top of a
// store.IStore: versioned get/put/remove, the paginated range cursor with its
// key and value matchers, copy and move, and the shallow, deep and path patches.
//
// Every operation runs in exactly one store transaction. Failed version checks are
// reported as false results, never as errors. Errors carry a store.RetCode:
//
//   - RetCInvalidOperation: malformed keys, patterns or patch bodies
//   - RetCAborted: a cancelled request or a failed half of a compound operation
//   - RetCUnsupportedOperation: a slot disabled in the Functions table
//
// The optional operations (query, patch, copy, move) are looked up through a
// Functions table, so a database can swap or disable them:
//
//	fns, _ := ops.Resolve(map[string]string{"patch": "deep", "move": ops.Disabled})
//	patch, _ := fns.Patch()
//	ok, err := patch(ctx, users, "joe", map[string]any{"age": 43.0}, ops.Conditions{})
package ops
