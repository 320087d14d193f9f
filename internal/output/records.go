package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/torosent/mechafeed/internal/config"
	"github.com/torosent/mechafeed/internal/record"
)

// RecordWriter prints records one at a time. Flush must be called once
// after the last record.
type RecordWriter interface {
	Write(rec record.Record) error
	Flush() error
}

// NewRecordWriter returns a writer for the given format.
func NewRecordWriter(format config.OutputFormat, w io.Writer) (RecordWriter, error) {
	switch format {
	case config.OutputText, "":
		return &textWriter{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}, nil
	case config.OutputJSON:
		return &jsonWriter{enc: json.NewEncoder(w)}, nil
	case config.OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return &yamlWriter{enc: enc}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

type textWriter struct {
	tw     *tabwriter.Writer
	header bool
}

func (t *textWriter) Write(rec record.Record) error {
	if !t.header {
		if _, err := fmt.Fprintln(t.tw, "POSITION\tNAME\tATTRIBUTES"); err != nil {
			return err
		}
		t.header = true
	}
	attrs := make([]string, 0, len(rec.Attributes))
	for _, k := range rec.AttributeKeys() {
		attrs = append(attrs, k+"="+rec.Attributes[k])
	}
	_, err := fmt.Fprintf(t.tw, "%d\t%s\t%s\n", rec.Position, rec.Name, strings.Join(attrs, " "))
	return err
}

func (t *textWriter) Flush() error { return t.tw.Flush() }

// jsonWriter emits newline-delimited JSON.
type jsonWriter struct {
	enc *json.Encoder
}

func (j *jsonWriter) Write(rec record.Record) error { return j.enc.Encode(rec) }

func (j *jsonWriter) Flush() error { return nil }

// yamlWriter emits one YAML document per record.
type yamlWriter struct {
	enc *yaml.Encoder
}

func (y *yamlWriter) Write(rec record.Record) error { return y.enc.Encode(rec) }

func (y *yamlWriter) Flush() error { return y.enc.Close() }
