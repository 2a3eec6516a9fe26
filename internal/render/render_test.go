package render

import (
	"bytes"
	"testing"

	"github.com/hopsworks/expat/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "JSON": FormatJSON, " yaml ": FormatYAML, "table": FormatTable} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("tsv")
	require.Error(t, err)
	assert.True(t, fault.Configuration.Has(err))
}

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	err := NewRenderer(&buf, FormatTable).RenderTable(
		[]string{"NAME", "COUNT"},
		[][]string{{"statistics", "3"}, {"jobs-config", "12"}})
	require.NoError(t, err)

	want := "" +
		"NAME         COUNT\n" +
		"-----------  -----\n" +
		"statistics   3\n" +
		"jobs-config  12\n"
	assert.Equal(t, want, buf.String())
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatTable).RenderTable([]string{"A"}, nil))
	assert.Empty(t, buf.String())
}

func TestRenderPicksFormat(t *testing.T) {
	data := []item{{Name: "a", Count: 1}}
	table := Table{Headers: []string{"NAME"}, Rows: [][]string{{"a"}}}

	var js bytes.Buffer
	require.NoError(t, NewRenderer(&js, FormatJSON).Render(data, table))
	assert.JSONEq(t, `[{"name":"a","count":1}]`, js.String())

	var ym bytes.Buffer
	require.NoError(t, NewRenderer(&ym, FormatYAML).Render(data, table))
	assert.Equal(t, "- name: a\n  count: 1\n", ym.String())

	var tb bytes.Buffer
	require.NoError(t, NewRenderer(&tb, FormatTable).Render(data, table))
	assert.Equal(t, "NAME\n----\na\n", tb.String())
}
