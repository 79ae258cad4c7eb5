package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hokaccha/go-prettyjson"
)

// WriteJSON writes the view as indented JSON, colored when color is set.
func WriteJSON(w io.Writer, v View, colored bool) error {
	var (
		out []byte
		err error
	)
	if colored {
		f := prettyjson.NewFormatter()
		f.Indent = 2
		out, err = f.Marshal(v)
	} else {
		out, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}
