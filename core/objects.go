// Package core holds the AID record model, the strict text-record parser,
// the well-known canonicalizer, and the protocol constants table.
package core

// Record is a parsed, validated AID record. Records are created by
// ParseRecord and never mutated afterwards.
type Record struct {
	// V is the record version token. Always SpecVersion after parsing.
	V string `json:"v"`
	// URI is the agent endpoint. Its scheme is constrained by Proto.
	URI string `json:"uri"`
	// Proto is the protocol token spoken at URI.
	Proto string `json:"proto"`
	// Auth names the authentication scheme the endpoint expects, if any.
	Auth string `json:"auth,omitempty"`
	// Desc is a human-readable description, at most 60 UTF-8 bytes.
	Desc string `json:"desc,omitempty"`
	// Docs is an absolute https URL pointing at documentation.
	Docs string `json:"docs,omitempty"`
	// Dep is an ISO-8601 UTC deprecation timestamp ending in "Z".
	Dep string `json:"dep,omitempty"`
	// PKA is a multibase-encoded ed25519 public key ("z" + base58btc).
	PKA string `json:"pka,omitempty"`
	// KID is the opaque key identifier paired with PKA.
	KID string `json:"kid,omitempty"`
}

// HasPKA reports whether the record advertises a key that must be proven
// by a handshake before the endpoint is used.
func (r *Record) HasPKA() bool {
	return r.PKA != "" && r.KID != ""
}
