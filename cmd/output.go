package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/trly/msirepo/internal/report"
)

// PrintOutput formats and prints data according to the specified output
// format. The table format is handled by the caller.
func PrintOutput(w io.Writer, format string, data any) error {
	switch strings.ToLower(format) {
	case "json":
		return printJSON(w, data)
	case "yaml", "yml":
		return printYAML(w, data)
	case "text":
		return printText(w, data)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// structured reports whether format is handled by PrintOutput.
func structured(format string) bool {
	return format != "" && !strings.EqualFold(format, "table")
}

// printJSON outputs data as JSON.
func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// printYAML outputs data as YAML.
func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer func() {
		_ = encoder.Close()
	}()
	return encoder.Encode(data)
}

// printText outputs data in a human-readable text format.
func printText(w io.Writer, data any) error {
	_, err := fmt.Fprintf(w, "%+v\n", data)
	return err
}

// newTable creates a table with the CLI's header and first column styling.
func newTable(w io.Writer, headers ...any) table.Table {
	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()
	return table.New(headers...).
		WithWriter(w).
		WithHeaderFormatter(headerFmt).
		WithFirstColumnFormatter(columnFmt)
}

var titleCaser = cases.Title(language.English)

// columnTitle turns a metadata field name into a column header:
// "ProductCode" becomes "Product Code" and "guid" becomes "GUID".
func columnTitle(field string) string {
	if strings.EqualFold(field, "guid") {
		return "GUID"
	}

	var b strings.Builder
	for i, r := range field {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return titleCaser.String(b.String())
}

// printReport renders an operation report. In table mode the summary is
// listed as key/value rows followed by any errors.
func printReport(w io.Writer, format, operation string, r *report.Report) error {
	if structured(format) {
		return PrintOutput(w, format, r)
	}

	status := color.GreenString("succeeded")
	if !r.Success {
		status = color.RedString("failed")
	}
	if _, err := fmt.Fprintf(w, "%s %s\n", operation, status); err != nil {
		return err
	}

	if len(r.Summary) > 0 {
		keys := make([]string, 0, len(r.Summary))
		for k := range r.Summary {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		tbl := newTable(w, "Step", "Result")
		for _, k := range keys {
			tbl.AddRow(k, r.Summary[k])
		}
		tbl.Print()
	}

	for _, e := range r.Details.Errors {
		if _, err := fmt.Fprintf(w, "  %s %s\n", color.RedString("error:"), e); err != nil {
			return err
		}
	}
	return nil
}
