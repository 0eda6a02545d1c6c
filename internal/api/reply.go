package api

import "github.com/tidwall/gjson"

// NoResponse is shown when a reply body carries no usable text.
const NoResponse = "No response"

// ExtractReply picks the reply text out of a response body. The canonical
// envelope is {"response": "..."}; everything else is legacy compatibility.
func ExtractReply(body []byte) string {
	if !gjson.ValidBytes(body) {
		// Plain-text body.
		return string(body)
	}
	root := gjson.ParseBytes(body)
	if root.Type == gjson.String {
		return root.Str
	}
	if !root.IsObject() {
		return NoResponse
	}
	if v := root.Get("response"); present(v) {
		return v.String()
	}
	if s, ok := legacyReply(root); ok {
		return s
	}
	return NoResponse
}

// legacyReply covers older backends that answered under different field
// names. Order matters: answer, result, then message.
func legacyReply(root gjson.Result) (string, bool) {
	for _, field := range []string{"answer", "result", "message"} {
		if v := root.Get(field); present(v) {
			return v.String(), true
		}
	}
	return "", false
}

// present mirrors a nullish check: absent and null are skipped, empty strings
// are values.
func present(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.Null
}
