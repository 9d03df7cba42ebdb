package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_GeneratesMeta(t *testing.T) {
	tp := New("gateway")

	meta := tp.Meta()
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "gateway", meta.Origin)
	assert.Equal(t, FrameworkVersion, meta.Version)
	assert.Positive(t, meta.Datetime)

	// Ids must differ between requests.
	assert.NotEqual(t, meta.ID, New("gateway").Meta().ID)
}

func TestTransport_DataKeyedByTriple(t *testing.T) {
	tp := New("test")

	tp.SetData(Key{Service: "users", Version: "1.0", Action: "get"}, "v1-data")
	tp.SetData(Key{Service: "users", Version: "2.0", Action: "get"}, "v2-data")
	tp.SetData(Key{Service: "users", Version: "1.0", Action: "list"}, "list-data")

	v, ok := tp.Data(Key{Service: "users", Version: "1.0", Action: "get"})
	require.True(t, ok)
	assert.Equal(t, "v1-data", v)

	v, ok = tp.Data(Key{Service: "users", Version: "2.0", Action: "get"})
	require.True(t, ok)
	assert.Equal(t, "v2-data", v)

	assert.Len(t, tp.DataKeys(), 3)
}

func TestTransport_SlashServiceNameDoesNotCollide(t *testing.T) {
	tp := New("test")

	// A service literally named "svc/1.0" must not collide with service
	// "svc" version "1.0".
	tp.SetData(Key{Service: "svc/1.0", Version: "2.0", Action: "a"}, "weird-name")
	tp.SetData(Key{Service: "svc", Version: "1.0", Action: "a"}, "plain")

	v, ok := tp.Data(Key{Service: "svc", Version: "1.0", Action: "a"})
	require.True(t, ok)
	assert.Equal(t, "plain", v)
	assert.Len(t, tp.DataKeys(), 2)
}

func TestTransport_FilesPreserveOrder(t *testing.T) {
	tp := New("test")
	tp.AddFile(FileRef{Name: "b.bin"})
	tp.AddFile(FileRef{Name: "a.bin"})
	tp.AddFile(FileRef{Name: "b.bin"}) // duplicates allowed

	files := tp.Files()
	require.Len(t, files, 3)
	assert.Equal(t, "b.bin", files[0].Name)
	assert.Equal(t, "a.bin", files[1].Name)
	assert.Equal(t, "b.bin", files[2].Name)
}

func TestTransport_ErrorsAreAdditive(t *testing.T) {
	tp := New("test")
	key := ErrorKey{Service: "users", Version: "1.0"}

	tp.AddError(key, ErrorEntry{Message: "first", Code: 1})
	tp.AddError(key, ErrorEntry{Message: "second", Code: 2})

	errs := tp.Errors()
	require.Len(t, errs[key], 2)
	assert.Equal(t, "first", errs[key][0].Message)
	assert.Equal(t, "second", errs[key][1].Message)
	assert.True(t, tp.HasErrors())
}

func TestTransport_Fork(t *testing.T) {
	parent := New("origin")
	parent.PushCall(CallEntry{Service: "a", Version: "1.0", Action: "x"})
	parent.SetData(Key{Service: "a", Version: "1.0", Action: "x"}, "data")
	parent.SetUserland("attr", "value")

	fork := parent.Fork()

	// Same request identity, no inherited state.
	assert.Equal(t, parent.Meta().ID, fork.Meta().ID)
	assert.Empty(t, fork.CallStack())
	assert.Empty(t, fork.DataKeys())
	assert.Empty(t, fork.UserlandKeys())

	// Mutating the fork must not leak into the parent.
	fork.SetData(Key{Service: "b", Version: "1.0", Action: "y"}, "sub")
	_, ok := parent.Data(Key{Service: "b", Version: "1.0", Action: "y"})
	assert.False(t, ok)
}

func TestTransport_CallStackCopies(t *testing.T) {
	tp := New("test")
	tp.PushCall(CallEntry{Service: "a", Version: "1.0", Action: "x"})

	stack := tp.CallStack()
	stack[0].Service = "mutated"

	assert.Equal(t, "a", tp.CallStack()[0].Service)
}
