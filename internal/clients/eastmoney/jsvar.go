package eastmoney

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// extractJSVar decodes the JSON literal assigned to "var name = ..." inside
// a JavaScript payload. Only the first value after the assignment is read,
// so trailing statements are ignored.
func extractJSVar(body []byte, name string, v any) error {
	re := regexp.MustCompile(`var\s+` + regexp.QuoteMeta(name) + `\s*=\s*`)
	loc := re.FindIndex(body)
	if loc == nil {
		return fmt.Errorf("variable %s not found", name)
	}
	dec := json.NewDecoder(bytes.NewReader(body[loc[1]:]))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func trimBOM(body []byte) []byte {
	return bytes.TrimPrefix(body, utf8BOM)
}
