package cmd

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"gopkg.in/yaml.v3"
)

const (
	formatYAML = "yaml"
	formatJSON = "json"
)

// plain flattens records into the objects the server stores, so YAML output
// matches the JSON shape.
func plain(c mrecord.Collection) []map[string]any {
	out := make([]map[string]any, 0, len(c))
	for _, rec := range c {
		m := make(map[string]any, len(rec.Fields)+1)
		for k, v := range rec.Fields {
			m[k] = v
		}
		if n, ok := rec.ID.Num(); ok && rec.ID.IsNum() {
			m[mrecord.FieldID] = n
		} else {
			m[mrecord.FieldID] = rec.ID.String()
		}
		out = append(out, m)
	}
	return out
}

func writeOutput(w io.Writer, format string, v any) error {
	if c, ok := v.(mrecord.Collection); ok {
		v = plain(c)
	}
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case formatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}
