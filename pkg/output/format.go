package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Format represents the output format type
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// TextRenderer is implemented by results that know their text layout
type TextRenderer interface {
	RenderText(w io.Writer) error
}

// Formatter writes results in the selected format
type Formatter struct {
	format Format
	writer io.Writer
}

// New creates a Formatter writing to stdout
func New(format Format) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter redirects output, mostly for tests
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Writer returns the destination writer
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Output writes data as indented JSON, or as text through TextRenderer when
// data implements it.
func (f *Formatter) Output(data interface{}) error {
	switch f.format {
	case FormatJSON:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case FormatText:
		if r, ok := data.(TextRenderer); ok {
			return r.RenderText(f.writer)
		}
		_, err := fmt.Fprintf(f.writer, "%v\n", data)
		return err
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// IsJSON returns true if the format is JSON
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// Table writes tab-aligned rows under an upper-cased header.
type Table struct {
	tw *tabwriter.Writer
}

// NewTable starts a table on w with the given column names
func NewTable(w io.Writer, columns ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	upper := make([]string, len(columns))
	for i, c := range columns {
		upper[i] = strings.ToUpper(c)
	}
	fmt.Fprintln(t.tw, strings.Join(upper, "\t"))
	return t
}

// Row appends one row; values are formatted with %v
func (t *Table) Row(values ...interface{}) {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = fmt.Sprintf("%v", v)
	}
	fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
}

// Flush writes the aligned table
func (t *Table) Flush() error {
	return t.tw.Flush()
}

// AddFormatFlag adds the --output/-o flag to a command
func AddFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "text", "Output format (text|json)")
}

// GetFormatFromCmd extracts the output format from a cobra command's flags
func GetFormatFromCmd(cmd *cobra.Command) (Format, error) {
	formatStr, err := cmd.Flags().GetString("output")
	if err != nil {
		return FormatText, err
	}

	format := Format(formatStr)
	switch format {
	case FormatText, FormatJSON:
		return format, nil
	default:
		return FormatText, fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", formatStr)
	}
}
