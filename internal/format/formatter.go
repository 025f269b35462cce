package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatText  OutputFormat = "text"
	FormatJSON  OutputFormat = "json"
	FormatJSONL OutputFormat = "jsonl"
	FormatCSV   OutputFormat = "csv"
)

// Verdict is the outcome of one lookup.
type Verdict struct {
	Value   string `json:"value"`
	Kind    string `json:"kind"`
	Blocked bool   `json:"blocked"`
	Error   string `json:"error,omitempty"`
}

// Formatter writes a set of verdicts to w.
type Formatter interface {
	Write(w io.Writer, verdicts []Verdict) error
}

type TextFormatter struct{}

func (TextFormatter) Write(w io.Writer, verdicts []Verdict) error {
	for _, v := range verdicts {
		state := "clean"
		switch {
		case v.Error != "":
			state = "error: " + v.Error
		case v.Blocked:
			state = "BLOCKED"
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", v.Value, v.Kind, state); err != nil {
			return err
		}
	}
	return nil
}

// JSONFormatter writes all verdicts as one array.
type JSONFormatter struct {
	Indent bool
}

func (f JSONFormatter) Write(w io.Writer, verdicts []Verdict) error {
	enc := json.NewEncoder(w)
	if f.Indent {
		enc.SetIndent("", "  ")
	}
	if verdicts == nil {
		verdicts = []Verdict{}
	}
	return enc.Encode(verdicts)
}

// JSONLFormatter writes one verdict per line.
type JSONLFormatter struct{}

func (JSONLFormatter) Write(w io.Writer, verdicts []Verdict) error {
	enc := json.NewEncoder(w)
	for _, v := range verdicts {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

type CSVFormatter struct{}

func (CSVFormatter) Write(w io.Writer, verdicts []Verdict) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"value", "kind", "blocked", "error"}); err != nil {
		return err
	}
	for _, v := range verdicts {
		if err := cw.Write([]string{v.Value, v.Kind, strconv.FormatBool(v.Blocked), v.Error}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// GetFormatter returns a formatter for the specified format
func GetFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatText:
		return TextFormatter{}, nil
	case FormatJSON:
		return JSONFormatter{Indent: true}, nil
	case FormatJSONL:
		return JSONLFormatter{}, nil
	case FormatCSV:
		return CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// ParseFormat parses a format string
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "text", "tsv":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}
