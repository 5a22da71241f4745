package core

import "strings"

// canonicalOrder fixes the field order CanonicalizeRecord emits. Each entry
// lists the canonical key followed by its short alias.
var canonicalOrder = []struct {
	key   string
	alias string
}{
	{"v", ""},
	{"uri", "u"},
	{"proto", "p"},
	{"auth", "a"},
	{"desc", "s"},
	{"docs", "d"},
	{"dep", "e"},
	{"pka", "k"},
	{"kid", "i"},
}

// CanonicalizeRecord converts a key-value mapping, such as the JSON object
// served at the well-known path, into the canonical semicolon-delimited text
// form. Short aliases resolve to their long names, empty and whitespace-only
// values are dropped, and fields are emitted in the fixed canonical order.
// The result carries no validation guarantees; feed it to ParseRecord.
func CanonicalizeRecord(fields map[string]string) string {
	var parts []string
	for _, f := range canonicalOrder {
		value := strings.TrimSpace(fields[f.key])
		if value == "" && f.alias != "" {
			value = strings.TrimSpace(fields[f.alias])
		}
		if value == "" {
			continue
		}
		parts = append(parts, f.key+"="+value)
	}
	return strings.Join(parts, ";")
}

// SerializeRecord emits a Record in the canonical text form. Parsing the
// result reproduces the record exactly.
func SerializeRecord(r *Record) string {
	return CanonicalizeRecord(map[string]string{
		"v":     r.V,
		"uri":   r.URI,
		"proto": r.Proto,
		"auth":  r.Auth,
		"desc":  r.Desc,
		"docs":  r.Docs,
		"dep":   r.Dep,
		"pka":   r.PKA,
		"kid":   r.KID,
	})
}
