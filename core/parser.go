package core

import (
	"net/url"
	"strings"

	aiderrors "github.com/agentcommunity/aid-go/errors"
)

// fieldAliases maps every recognized key, long or short, to its canonical
// field name. Keys not in this table are ignored for forward compatibility.
var fieldAliases = map[string]string{
	"v":     "v",
	"uri":   "uri",
	"u":     "uri",
	"proto": "proto",
	"p":     "proto",
	"auth":  "auth",
	"a":     "auth",
	"desc":  "desc",
	"s":     "desc",
	"docs":  "docs",
	"d":     "docs",
	"dep":   "dep",
	"e":     "dep",
	"pka":   "pka",
	"k":     "pka",
	"kid":   "kid",
	"i":     "kid",
}

const maxDescBytes = 60

// ParseRecord parses and validates one AID text record. It is pure and
// deterministic: no I/O, no clock, same input always yields the same
// Record or the same error code.
func ParseRecord(txt string) (*Record, error) {
	fields := make(map[string]string)
	// usedKey remembers which alias produced each canonical field so that
	// alias collisions can name both offending keys.
	usedKey := make(map[string]string)

	for _, rawPair := range strings.Split(txt, ";") {
		pair := strings.TrimSpace(rawPair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, aiderrors.InvalidTXTError("Invalid key-value pair: %s", pair)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			return nil, aiderrors.InvalidTXTError("Empty key or value in pair: %s", pair)
		}

		canonical, known := fieldAliases[key]
		if !known {
			continue
		}
		if prev, dup := usedKey[canonical]; dup {
			if prev == key {
				return nil, aiderrors.InvalidTXTError("Duplicate key: %s", key)
			}
			return nil, aiderrors.InvalidTXTError("Cannot specify both %q and %q fields", prev, key)
		}
		usedKey[canonical] = key
		fields[canonical] = value
	}

	v, ok := fields["v"]
	if !ok {
		return nil, aiderrors.InvalidTXTError("Missing required field: v")
	}
	if v != SpecVersion {
		return nil, aiderrors.InvalidTXTError("Unsupported version: %s. Expected: %s", v, SpecVersion)
	}

	uri, ok := fields["uri"]
	if !ok {
		return nil, aiderrors.InvalidTXTError("Missing required field: uri")
	}

	proto, ok := fields["proto"]
	if !ok {
		return nil, aiderrors.InvalidTXTError("Missing required field: proto (or p)")
	}
	if !IsSupportedProto(proto) {
		return nil, aiderrors.UnsupportedProtoError("Unsupported protocol: %s", proto)
	}

	if auth, ok := fields["auth"]; ok && !IsSupportedAuth(auth) {
		return nil, aiderrors.InvalidTXTError("Invalid auth token: %s", auth)
	}

	// Length in UTF-8 bytes, not code points.
	if desc, ok := fields["desc"]; ok && len(desc) > maxDescBytes {
		return nil, aiderrors.InvalidTXTError("Description field must be <= %d UTF-8 bytes", maxDescBytes)
	}

	if docs, ok := fields["docs"]; ok {
		if err := checkDocsURL(docs); err != nil {
			return nil, err
		}
	}

	if dep, ok := fields["dep"]; ok && !strings.HasSuffix(dep, "Z") {
		return nil, aiderrors.InvalidTXTError("Invalid dep timestamp: %s (must be ISO-8601 UTC ending in Z)", dep)
	}

	if _, ok := fields["pka"]; ok && fields["kid"] == "" {
		return nil, aiderrors.InvalidTXTError("Missing required field: kid (required when pka is present)")
	}

	if err := checkURIScheme(proto, uri); err != nil {
		return nil, err
	}

	return &Record{
		V:     v,
		URI:   uri,
		Proto: proto,
		Auth:  fields["auth"],
		Desc:  fields["desc"],
		Docs:  fields["docs"],
		Dep:   fields["dep"],
		PKA:   fields["pka"],
		KID:   fields["kid"],
	}, nil
}

// checkDocsURL requires an absolute https URL with a host.
func checkDocsURL(docs string) error {
	u, err := url.Parse(docs)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return aiderrors.InvalidTXTError("Invalid docs URL: %s (must be an absolute https URL)", docs)
	}
	return nil
}

// checkURIScheme enforces the per-protocol URI scheme binding. ProtoLocal
// records carry package-manager URIs whose allow-list is enforced by
// consumers, not here.
func checkURIScheme(proto, uri string) error {
	if proto == ProtoLocal {
		return nil
	}
	required, ok := protoURISchemes[proto]
	if !ok {
		required = "https://"
	}
	if !strings.HasPrefix(uri, required) {
		return aiderrors.InvalidTXTError("Invalid uri for proto %q: must start with %q", proto, required)
	}
	return nil
}
