package fetcher

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// decodeInto decodes a single JSON document into out. Numbers are kept as
// json.Number so that loosely typed repository fields survive decoding.
func decodeInto(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return eris.Wrap(err, "json: decode object")
	}
	return nil
}
