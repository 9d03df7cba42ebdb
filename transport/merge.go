package transport

// Merge folds the transport returned by a runtime call back into the
// caller's transport, producing a new transport. Neither input is modified.
//
// Merge is order-sensitive by design: files, errors, and the call stack are
// concatenated base-then-incoming because their order reflects causal call
// order, so Merge(a, b) != Merge(b, a) in general. Callers must merge
// sub-call transports in the order the calls were issued, not the order they
// completed.
//
// Rules:
//   - meta: retained from base; a merge never changes request identity.
//   - data: union by (service, version, action) key. When both sides hold a
//     value at the same key, incoming wins and the collision is recorded in
//     the report rather than silently resolved.
//   - files: base then incoming, order preserved, no de-duplication.
//   - errors: lists concatenated per (service, version) key; no entry
//     present in either input is ever dropped.
//   - userland: shallow union, incoming keys override base keys.
//   - callStack: base entries then incoming entries.
func Merge(base, incoming *Transport) (*Transport, *MergeReport) {
	report := &MergeReport{}
	out := NewWithMeta(base.meta)

	out.callStack = make([]CallEntry, 0, len(base.callStack)+len(incoming.callStack))
	out.callStack = append(out.callStack, base.callStack...)
	out.callStack = append(out.callStack, incoming.callStack...)

	for key, value := range base.data {
		out.data[key] = value
	}
	for key, value := range incoming.data {
		if existing, collided := out.data[key]; collided {
			report.Conflicts = append(report.Conflicts, MergeConflict{
				Key:      key,
				Base:     existing,
				Incoming: value,
			})
		}
		out.data[key] = value
	}

	out.files = make([]FileRef, 0, len(base.files)+len(incoming.files))
	out.files = append(out.files, base.files...)
	out.files = append(out.files, incoming.files...)

	for key, entries := range base.errors {
		out.errors[key] = append(out.errors[key], entries...)
	}
	for key, entries := range incoming.errors {
		out.errors[key] = append(out.errors[key], entries...)
	}

	for key, value := range base.userland {
		out.userland[key] = value
	}
	for key, value := range incoming.userland {
		out.userland[key] = value
	}

	return out, report
}

// MergeConflict records one data collision observed during a merge. The
// incoming value won; the conflict exists for observability, not rejection.
type MergeConflict struct {
	Key      Key
	Base     any
	Incoming any
}

// MergeReport collects the conflicts of one merge.
type MergeReport struct {
	Conflicts []MergeConflict
}

// HasConflicts reports whether the merge observed any data collision.
func (r *MergeReport) HasConflicts() bool {
	return len(r.Conflicts) > 0
}
