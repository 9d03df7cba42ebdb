package transport

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireFormat_RoundTrip(t *testing.T) {
	tp := New("gateway")
	tp.PushCall(CallEntry{Service: "users", Version: "1.0", Action: "get"})
	tp.PushCall(CallEntry{Service: "profiles", Version: "2.1", Action: "fetch", Caller: "users"})

	tp.SetData(Key{Service: "users", Version: "1.0", Action: "get"},
		map[string]any{"id": "u1", "name": "Ada"})
	tp.SetData(Key{Service: "users", Version: "2.0", Action: "get"}, "newer")
	tp.SetData(Key{Service: "billing/invoices", Version: "1.0", Action: "list"}, []any{"a", "b"})

	tp.AddFile(FileRef{Name: "avatar.png", Mime: "image/png", Size: 3, Payload: []byte{0x89, 0x50, 0x4e}})
	tp.AddFile(FileRef{Name: "report.pdf", Token: "files/123", Mime: "application/pdf"})

	tp.AddError(ErrorKey{Service: "users", Version: "1.0"}, ErrorEntry{Message: "slow backend", Code: 12})
	tp.SetUserland("locale", "en-GB")

	data, err := json.Marshal(tp)
	require.NoError(t, err)

	var decoded Transport
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, tp.Meta(), decoded.Meta())
	assert.Equal(t, tp.CallStack(), decoded.CallStack())
	assert.Equal(t, tp.Errors(), decoded.Errors())

	// Binary payloads must survive intact, in order.
	files := decoded.Files()
	require.Len(t, files, 2)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e}, files[0].Payload)
	assert.Equal(t, "files/123", files[1].Token)

	v, ok := decoded.Data(Key{Service: "users", Version: "1.0", Action: "get"})
	require.True(t, ok)
	if diff := cmp.Diff(map[string]any{"id": "u1", "name": "Ada"}, v); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}

	_, ok = decoded.Data(Key{Service: "billing/invoices", Version: "1.0", Action: "list"})
	assert.True(t, ok, "slash-containing service names must round-trip")

	locale, ok := decoded.Userland("locale")
	require.True(t, ok)
	assert.Equal(t, "en-GB", locale)
}

func TestWireFormat_EmptyTransport(t *testing.T) {
	tp := New("gateway")

	data, err := json.Marshal(tp)
	require.NoError(t, err)

	var decoded Transport
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, tp.Meta(), decoded.Meta())
	assert.Empty(t, decoded.DataKeys())
	assert.Empty(t, decoded.Files())
	assert.False(t, decoded.HasErrors())

	// A decoded transport must be usable without further initialization.
	decoded.SetUserland("k", "v")
	decoded.SetData(Key{Service: "s", Version: "1.0", Action: "a"}, 1)
	decoded.AddError(ErrorKey{Service: "s", Version: "1.0"}, ErrorEntry{Message: "m"})
}

func TestWireFormat_RejectsGarbage(t *testing.T) {
	var decoded Transport
	err := json.Unmarshal([]byte(`"not an object"`), &decoded)
	assert.Error(t, err)
}
