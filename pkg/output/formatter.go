// Package output formats boxlitectl command results: a slice of structs
// is walked with reflect and rendered as an aligned table (via
// text/tabwriter), JSON, or YAML. A field named Status is treated as a
// first-class, colored column, since a box graph snapshot is read
// precisely to see which boxes are RUNNING and which have already
// STOPPED.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))

	// Status colors, keyed by the upper-cased value of a "Status" field
	// on a row struct (see Box.Running in cmd/boxlitectl's list command,
	// which is what populates that field).
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))  // green
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))            // gray
	failedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")) // red
)

// Formatter renders arbitrary data (a struct or slice of structs) as text.
type Formatter interface {
	Format(data any) string
}

// New returns a Formatter for the given format name. Supported values
// are "table" (default), "json", "yaml".
func New(format string) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{}
	case "yaml":
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// TableFormatter renders a slice of structs as an aligned table with a
// styled header row, or a struct as a field list. A field named Status
// is rendered through styleStatus instead of a plain %v, so a box
// graph's RUNNING/STOPPED/FAILED state stands out the way an operator
// scanning a long box list actually needs it to.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			return "No boxes found.\n"
		}
		elem := derefKind(v.Index(0))
		if elem.Kind() == reflect.Struct {
			t := elem.Type()
			headers := make([]string, t.NumField())
			for i := 0; i < t.NumField(); i++ {
				headers[i] = headerStyle.Render(strings.ToUpper(t.Field(i).Name))
			}
			fmt.Fprintln(w, strings.Join(headers, "\t"))
			for i := 0; i < v.Len(); i++ {
				row := derefKind(v.Index(i))
				t := row.Type()
				vals := make([]string, row.NumField())
				for j := 0; j < row.NumField(); j++ {
					vals[j] = formatCell(t.Field(j).Name, row.Field(j).Interface())
				}
				fmt.Fprintln(w, strings.Join(vals, "\t"))
			}
		} else {
			for i := 0; i < v.Len(); i++ {
				fmt.Fprintln(w, v.Index(i).Interface())
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			fmt.Fprintf(w, "%s:\t%s\n", headerStyle.Render(t.Field(i).Name), formatCell(t.Field(i).Name, v.Field(i).Interface()))
		}
	default:
		fmt.Fprintln(w, data)
	}

	w.Flush()
	return buf.String()
}

// formatCell renders one struct field's value for display, routing a
// field literally named Status through styleStatus so it picks up
// RUNNING/STOPPED/FAILED coloring; every other field falls back to a
// plain %v the way the rest of the table always has.
func formatCell(fieldName string, value any) string {
	if fieldName == "Status" {
		if s, ok := value.(string); ok {
			return styleStatus(s)
		}
	}
	return fmt.Sprintf("%v", value)
}

// styleStatus colors a status string: green for a running box, gray for
// one that has stopped cleanly, red for anything that looks like a
// failure. Unrecognized values pass through unstyled rather than risk
// mislabeling a status this formatter doesn't know about yet.
func styleStatus(status string) string {
	upper := strings.ToUpper(status)
	switch upper {
	case "RUNNING":
		return runningStyle.Render(upper)
	case "STOPPED", "EXITED":
		return stoppedStyle.Render(upper)
	case "FAILED", "ERROR", "CRASHED":
		return failedStyle.Render(upper)
	default:
		return status
	}
}

func derefKind(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr {
		return v.Elem()
	}
	return v
}

// JSONFormatter renders data as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v\n", err)
	}
	return string(b) + "\n"
}

// YAMLFormatter renders data as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
	b, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	return string(b)
}
