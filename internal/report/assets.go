package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
)

// Grounded on ashita-ai-akashi/ui/ui.go's go:embed-a-prebuilt-frontend idiom:
// the viewer is treated as an opaque prebuilt bundle the materializer
// inlines verbatim, never as Go-templated markup.

//go:embed assets/template.html
var templateHTML []byte

//go:embed assets/viewer.js
var viewerJS []byte

var (
	dataPlaceholder   = []byte("/*__TRACECC_DATA__*/{}/*__TRACECC_DATA__*/")
	viewerPlaceholder = []byte("/*__TRACECC_VIEWER__*/")

	lineSeparatorUTF8 = []byte{0xE2, 0x80, 0xA8} // U+2028
	paraSeparatorUTF8 = []byte{0xE2, 0x80, 0xA9} // U+2029
)

// renderHTML inlines the payload and the viewer bundle into the static
// template, producing a single self-contained file with no external
// fetches.
func renderHTML(payload Payload) ([]byte, error) {
	dataJSON, err := marshalForScriptTag(payload)
	if err != nil {
		return nil, err
	}

	out := bytes.Replace(templateHTML, dataPlaceholder, dataJSON, 1)
	out = bytes.Replace(out, viewerPlaceholder, viewerJS, 1)
	return out, nil
}

// marshalForScriptTag encodes v as JSON safe to assign to a global inside a
// <script> tag. encoding/json already escapes '<', '>' and '&' by default;
// it does not escape U+2028/U+2029, which are legal JSON characters but
// terminate statements when the bytes are parsed as JS source, so those are
// escaped by hand afterward.
func marshalForScriptTag(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	b := bytes.TrimRight(buf.Bytes(), "\n")
	b = bytes.ReplaceAll(b, lineSeparatorUTF8, []byte(` `))
	b = bytes.ReplaceAll(b, paraSeparatorUTF8, []byte(` `))
	return b, nil
}
