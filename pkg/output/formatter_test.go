package output_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/strand-protocol/boxlite/pkg/output"
)

type row struct {
	Name  string
	Count int
}

func TestTableFormatterRendersHeaderAndRows(t *testing.T) {
	f := output.New("table")
	out := f.Format([]row{{Name: "a", Count: 1}, {Name: "b", Count: 2}})
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "COUNT")
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
}

func TestTableFormatterEmptySlice(t *testing.T) {
	f := output.New("table")
	out := f.Format([]row{})
	assert.Contains(t, out, "No boxes found")
}

func TestJSONFormatter(t *testing.T) {
	f := output.New("json")
	out := f.Format(row{Name: "a", Count: 1})
	assert.True(t, strings.Contains(out, `"Name": "a"`))
}

func TestYAMLFormatter(t *testing.T) {
	f := output.New("yaml")
	out := f.Format(row{Name: "a", Count: 1})
	assert.Contains(t, out, "name: a")
}

func TestNewDefaultsToTable(t *testing.T) {
	f := output.New("")
	_, ok := f.(*output.TableFormatter)
	assert.True(t, ok)
}

type statusRow struct {
	Name   string
	Status string
}

func TestTableFormatterColorsKnownStatuses(t *testing.T) {
	f := output.New("table")
	out := f.Format([]statusRow{
		{Name: "a", Status: "running"},
		{Name: "b", Status: "stopped"},
		{Name: "c", Status: "failed"},
	})
	// lipgloss wraps styled text in ANSI escapes; a colorized cell is
	// strictly longer than its bare upper-cased value.
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "STOPPED")
	assert.Contains(t, out, "FAILED")
	assert.Greater(t, len(out), len("NAME\tSTATUS\na\trunning\nb\tstopped\nc\tfailed\n"))
}

func TestTableFormatterPassesThroughUnknownStatus(t *testing.T) {
	f := output.New("table")
	out := f.Format([]statusRow{{Name: "a", Status: "pending"}})
	assert.Contains(t, out, "pending")
}
