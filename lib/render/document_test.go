package render

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentRendersTablesInOrder(t *testing.T) {
	doc := NewDocument()
	doc.Table("client").
		Set("remote_addr", "1.2.3.4:9000").
		Set("default_token", "abc")
	doc.Table("client", "services", "t1").
		Set("local_addr", "127.0.0.1:8080")

	want := `[client]
remote_addr = "1.2.3.4:9000"
default_token = "abc"

[client.services.t1]
local_addr = "127.0.0.1:8080"
`
	assert.Equal(t, want, doc.String())
}

func TestValueFormatting(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{true, "true"},
		{false, "false"},
		{4, "4"},
		{int64(-7), "-7"},
		{uint16(9), "9"},
		{float64(10), "10"},
		{2.5, "2.5"},
		{"plain", `"plain"`},
		{`a"b\c`, `"a\"b\\c"`},
		{"line\nbreak", `"line\nbreak"`},
		{[]string{"a", "b"}, `["a", "b"]`},
		{[]any{"x", 1}, `["x", "1"]`},
		{[]string{}, "[]"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Value(tc.in), "%#v", tc.in)
	}
}

func TestSetNilOmitsKeyAndReplaceKeepsPosition(t *testing.T) {
	doc := NewDocument()
	tbl := doc.Table("client").
		Set("a", 1).
		Set("b", nil).
		Set("c", 3)
	tbl.Set("a", 2)

	assert.False(t, tbl.Has("b"))
	assert.True(t, tbl.Has("a"))
	assert.Equal(t, "[client]\na = 2\nc = 3\n", doc.String())
}

func TestTableNameQuotesUnsafeSegments(t *testing.T) {
	assert.Equal(t, "client.services.t-1", TableName("client", "services", "t-1"))
	assert.Equal(t, `client.services."edge.1"`, TableName("client", "services", "edge.1"))

	doc := NewDocument()
	assert.Same(t, doc.Table("client", "services", "edge.1"), doc.Table("client", "services", "edge.1"))
}

func TestRenderedOutputParsesAsTOML(t *testing.T) {
	doc := NewDocument()
	doc.Table("client").
		Set("remote_addr", `host"with\quotes:1`).
		Set("transport", "tcpmux").
		Set("connection_pool", 8).
		Set("nodelay", true).
		Set("edge_ip", []string{"10.0.0.1", "10.0.0.2"})
	doc.Table("client", "services", "edge.1").
		Set("local_addr", "127.0.0.1:22")

	var decoded map[string]any
	require.NoError(t, toml.Unmarshal(doc.Bytes(), &decoded))

	client, ok := decoded["client"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, `host"with\quotes:1`, client["remote_addr"])
	assert.Equal(t, "tcpmux", client["transport"])
	assert.EqualValues(t, 8, client["connection_pool"])
	assert.Equal(t, true, client["nodelay"])
	assert.Equal(t, []any{"10.0.0.1", "10.0.0.2"}, client["edge_ip"])

	services := client["services"].(map[string]any)
	svc := services["edge.1"].(map[string]any)
	assert.Equal(t, "127.0.0.1:22", svc["local_addr"])
}
