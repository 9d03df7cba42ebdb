package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_DataUnion(t *testing.T) {
	base := New("origin")
	base.SetData(Key{Service: "users", Version: "1.0", Action: "get"}, "base-users")

	incoming := base.Fork()
	incoming.SetData(Key{Service: "profiles", Version: "1.0", Action: "fetch"}, "sub-profiles")

	merged, report := Merge(base, incoming)
	require.False(t, report.HasConflicts())

	v, ok := merged.Data(Key{Service: "users", Version: "1.0", Action: "get"})
	require.True(t, ok)
	assert.Equal(t, "base-users", v)

	v, ok = merged.Data(Key{Service: "profiles", Version: "1.0", Action: "fetch"})
	require.True(t, ok)
	assert.Equal(t, "sub-profiles", v)
}

func TestMerge_ConflictIncomingWinsAndIsReported(t *testing.T) {
	key := Key{Service: "users", Version: "1.0", Action: "get"}

	base := New("origin")
	base.SetData(key, "old")

	incoming := base.Fork()
	incoming.SetData(key, "new")

	merged, report := Merge(base, incoming)

	v, _ := merged.Data(key)
	assert.Equal(t, "new", v)

	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, key, report.Conflicts[0].Key)
	assert.Equal(t, "old", report.Conflicts[0].Base)
	assert.Equal(t, "new", report.Conflicts[0].Incoming)
}

func TestMerge_VersionScopedEntriesNeverCollide(t *testing.T) {
	base := New("origin")
	base.SetData(Key{Service: "users", Version: "1.0", Action: "get"}, "v1")

	incoming := base.Fork()
	incoming.SetData(Key{Service: "users", Version: "2.0", Action: "get"}, "v2")

	merged, report := Merge(base, incoming)
	assert.False(t, report.HasConflicts())

	v1, _ := merged.Data(Key{Service: "users", Version: "1.0", Action: "get"})
	v2, _ := merged.Data(Key{Service: "users", Version: "2.0", Action: "get"})
	assert.Equal(t, "v1", v1)
	assert.Equal(t, "v2", v2)
}

func TestMerge_FilesConcatenateExactly(t *testing.T) {
	base := New("origin")
	base.AddFile(FileRef{Name: "one"})
	base.AddFile(FileRef{Name: "dup"})

	incoming := base.Fork()
	incoming.AddFile(FileRef{Name: "dup"})
	incoming.AddFile(FileRef{Name: "two"})

	merged, _ := Merge(base, incoming)

	// merged.files == base.files ++ incoming.files, duplicates included.
	var names []string
	for _, f := range merged.Files() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"one", "dup", "dup", "two"}, names)
}

func TestMerge_ErrorsNeverDropped(t *testing.T) {
	usersKey := ErrorKey{Service: "users", Version: "1.0"}
	billingKey := ErrorKey{Service: "billing", Version: "2.0"}

	base := New("origin")
	base.AddError(usersKey, ErrorEntry{Message: "base error", Code: 1})

	incoming := base.Fork()
	incoming.AddError(usersKey, ErrorEntry{Message: "incoming error", Code: 2})
	incoming.AddError(billingKey, ErrorEntry{Message: "billing down", Code: 3})

	merged, _ := Merge(base, incoming)
	errs := merged.Errors()

	// Key set of result contains the union of input key sets.
	require.Contains(t, errs, usersKey)
	require.Contains(t, errs, billingKey)

	require.Len(t, errs[usersKey], 2)
	assert.Equal(t, "base error", errs[usersKey][0].Message)
	assert.Equal(t, "incoming error", errs[usersKey][1].Message)
}

func TestMerge_UserlandIncomingOverrides(t *testing.T) {
	base := New("origin")
	base.SetUserland("shared", "base")
	base.SetUserland("base-only", true)

	incoming := base.Fork()
	incoming.SetUserland("shared", "incoming")
	incoming.SetUserland("incoming-only", true)

	merged, _ := Merge(base, incoming)

	v, _ := merged.Userland("shared")
	assert.Equal(t, "incoming", v)
	_, ok := merged.Userland("base-only")
	assert.True(t, ok)
	_, ok = merged.Userland("incoming-only")
	assert.True(t, ok)
}

func TestMerge_CallStackAppends(t *testing.T) {
	base := New("origin")
	base.PushCall(CallEntry{Service: "a", Version: "1.0", Action: "x"})

	incoming := base.Fork()
	incoming.PushCall(CallEntry{Service: "b", Version: "1.0", Action: "y"})

	merged, _ := Merge(base, incoming)
	stack := merged.CallStack()
	require.Len(t, stack, 2)
	assert.Equal(t, "a", stack[0].Service)
	assert.Equal(t, "b", stack[1].Service)
}

func TestMerge_MetaFromBase(t *testing.T) {
	base := New("origin")
	other := New("elsewhere")

	merged, _ := Merge(base, other)
	assert.Equal(t, base.Meta(), merged.Meta())
}

func TestMerge_OrderSensitive(t *testing.T) {
	a := New("origin")
	a.AddFile(FileRef{Name: "first"})
	b := a.Fork()
	b.AddFile(FileRef{Name: "second"})

	ab, _ := Merge(a, b)
	ba, _ := Merge(b, a)

	assert.Equal(t, "first", ab.Files()[0].Name)
	assert.Equal(t, "second", ba.Files()[0].Name)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	key := Key{Service: "s", Version: "1.0", Action: "a"}

	base := New("origin")
	base.SetData(key, "base")
	base.AddFile(FileRef{Name: "base-file"})

	incoming := base.Fork()
	incoming.SetData(key, "incoming")

	_, _ = Merge(base, incoming)

	v, _ := base.Data(key)
	assert.Equal(t, "base", v)
	assert.Len(t, base.Files(), 1)

	v, _ = incoming.Data(key)
	assert.Equal(t, "incoming", v)
}
