// Package pka performs the public-key-authenticated handshake that binds a
// discovered endpoint to the key its AID record advertises. The client
// sends a fresh challenge, the server answers with an HTTP Message
// Signature over an exact set of covered components, and the client
// reconstructs the signature base and verifies it against the record's
// ed25519 key. Every failure collapses to ERR_SECURITY; there is no retry
// and no partial success.
package pka

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/mr-tron/base58"

	aiderrors "github.com/agentcommunity/aid-go/errors"
	blog "github.com/agentcommunity/aid-go/log"
	"github.com/agentcommunity/aid-go/metrics"
)

const (
	challengeSize = 32
	// freshnessWindow bounds |now - created| and |now - Date| in seconds.
	freshnessWindow = 300
	algEd25519      = "ed25519"
)

// canonicalCase maps a lowercased covered-component identifier to the
// canonical spelling used in signature base lines.
var canonicalCase = map[string]string{
	"aid-challenge": "AID-Challenge",
	"@method":       "@method",
	"@target-uri":   "@target-uri",
	"host":          "host",
	"date":          "date",
}

// Verifier performs PKA handshakes. The challenge source is an injectable
// seam: production uses crypto/rand, tests may pin a known value.
type Verifier struct {
	clk          clock.Clock
	log          blog.Logger
	stats        metrics.Scope
	newChallenge func() (string, error)
}

// New constructs a Verifier using a CSPRNG challenge source.
func New(clk clock.Clock, logger blog.Logger, stats metrics.Scope) *Verifier {
	return &Verifier{
		clk:          clk,
		log:          logger,
		stats:        stats,
		newChallenge: newRandomChallenge,
	}
}

func newRandomChallenge() (string, error) {
	var buf [challengeSize]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// Verify issues the signed-GET handshake against uri and verifies the
// response signature against the multibase-encoded public key pka under
// key identifier kid. A nil return means the endpoint proved possession of
// the advertised key.
func (v *Verifier) Verify(ctx context.Context, uri, pka, kid string, timeout time.Duration) error {
	v.stats.Inc("PKA.Handshakes", 1)
	err := v.verify(ctx, uri, pka, kid, timeout)
	if err != nil {
		v.stats.Inc("PKA.Failures", 1)
		v.log.AuditErrf("PKA handshake for %q key %q failed: %s", uri, kid, err)
		return err
	}
	v.log.Debugf("PKA handshake for %q key %q succeeded", uri, kid)
	return nil
}

func (v *Verifier) verify(ctx context.Context, uri, pka, kid string, timeout time.Duration) error {
	if kid == "" {
		return aiderrors.SecurityError("Missing kid for PKA")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return aiderrors.SecurityError("Invalid URI for handshake: %s", uri)
	}

	challenge, err := v.newChallenge()
	if err != nil {
		return aiderrors.SecurityError("Challenge generation failed: %s", err)
	}
	requestDate := v.clk.Now().UTC().Format(http.TimeFormat)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return aiderrors.SecurityError("Invalid URI for handshake: %s", uri)
	}
	req.Header.Set("AID-Challenge", challenge)
	req.Header.Set("Date", requestDate)

	resp, err := newHandshakeClient().Do(req)
	if err != nil {
		return aiderrors.SecurityError("Handshake request failed: %s", err)
	}
	defer discardBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return aiderrors.SecurityError("Handshake HTTP %d", resp.StatusCode)
	}

	sigInput, err := parseSignatureInput(resp.Header.Get("Signature-Input"))
	if err != nil {
		return err
	}
	signature, err := parseSignature(resp.Header.Get("Signature"))
	if err != nil {
		return err
	}

	now := v.clk.Now().Unix()
	if delta := now - sigInput.created; delta > freshnessWindow || delta < -freshnessWindow {
		return aiderrors.SecurityError("Signature created timestamp outside acceptance window")
	}
	responseDate := resp.Header.Get("Date")
	if responseDate != "" {
		parsed, err := http.ParseTime(responseDate)
		if err != nil {
			return aiderrors.SecurityError("Invalid Date header: %s", responseDate)
		}
		if delta := now - parsed.Unix(); delta > freshnessWindow || delta < -freshnessWindow {
			return aiderrors.SecurityError("HTTP Date header outside acceptance window")
		}
	}

	if stripQuotes(sigInput.keyID) != kid {
		return aiderrors.SecurityError("Signature keyid mismatch")
	}
	if sigInput.alg != algEd25519 {
		return aiderrors.SecurityError("Unsupported signature algorithm: %s", sigInput.alg)
	}

	baseDate := responseDate
	if baseDate == "" {
		baseDate = requestDate
	}
	base := buildSignatureBase(sigInput, challenge, http.MethodGet, uri, u.Host, baseDate)

	publicKey, err := decodeMultibase(pka)
	if err != nil {
		return err
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return aiderrors.SecurityError("Invalid PKA length: %d bytes after decode", len(publicKey))
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), base, signature) {
		return aiderrors.SecurityError("PKA signature verification failed")
	}
	return nil
}

// newHandshakeClient builds the one-shot HTTP client for a handshake. The
// handshake is a single request to a single endpoint: no redirects, no
// connection reuse.
func newHandshakeClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DisableKeepAlives:   true,
			MaxIdleConns:        1,
			IdleConnTimeout:     time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
}

// signatureInput is the parsed form of a Signature-Input header's "sig"
// entry.
type signatureInput struct {
	// covered holds the component identifiers in server order, spelled as
	// received.
	covered []string
	created int64
	// keyID is kept exactly as received, quotes included, because the
	// signature base must reproduce it byte for byte.
	keyID string
	// alg is unquoted and lowercased.
	alg string
}

// parseSignatureInput extracts the "sig" label's covered component list and
// its created/keyid/alg parameters, and requires the covered set to equal
// exactly {aid-challenge, @method, @target-uri, host, date}. Requiring
// equality rather than containment closes the downgrade where a server
// signs fewer components than the client relies on.
func parseSignatureInput(header string) (*signatureInput, error) {
	if header == "" {
		return nil, aiderrors.SecurityError("Missing signature headers")
	}
	start := strings.Index(header, "sig=(")
	if start < 0 {
		return nil, aiderrors.SecurityError("Invalid Signature-Input header")
	}
	rest := header[start+len("sig=("):]
	end := strings.Index(rest, ")")
	if end < 0 {
		return nil, aiderrors.SecurityError("Invalid Signature-Input header")
	}
	covered := quotedStrings(rest[:end])
	if len(covered) == 0 {
		return nil, aiderrors.SecurityError("Invalid Signature-Input header")
	}

	seen := make(map[string]bool)
	for _, component := range covered {
		lower := strings.ToLower(component)
		if _, required := canonicalCase[lower]; !required {
			return nil, aiderrors.SecurityError("Signature-Input covers unexpected component %q", component)
		}
		seen[lower] = true
	}
	if len(seen) != len(canonicalCase) {
		return nil, aiderrors.SecurityError("Signature-Input must cover exactly the required components")
	}

	sigInput := &signatureInput{covered: covered}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		switch {
		case strings.HasPrefix(lower, "created="):
			created, err := strconv.ParseInt(part[len("created="):], 10, 64)
			if err == nil {
				sigInput.created = created
			}
		case strings.HasPrefix(lower, "keyid="):
			sigInput.keyID = strings.TrimSpace(part[len("keyid="):])
		case strings.HasPrefix(lower, "alg="):
			sigInput.alg = strings.ToLower(stripQuotes(strings.TrimSpace(part[len("alg="):])))
		}
	}
	if sigInput.created == 0 || sigInput.keyID == "" || sigInput.alg == "" {
		return nil, aiderrors.SecurityError("Signature-Input missing created, keyid or alg")
	}
	return sigInput, nil
}

// parseSignature extracts the raw signature bytes from a Signature header
// of the form `sig=:<base64>:`.
func parseSignature(header string) ([]byte, error) {
	if header == "" {
		return nil, aiderrors.SecurityError("Missing signature headers")
	}
	start := strings.Index(strings.ToLower(header), "sig=")
	if start < 0 {
		return nil, aiderrors.SecurityError("Invalid Signature header")
	}
	value := header[start+len("sig="):]
	if !strings.HasPrefix(value, ":") {
		return nil, aiderrors.SecurityError("Invalid Signature header")
	}
	value = value[1:]
	end := strings.Index(value, ":")
	if end < 0 {
		return nil, aiderrors.SecurityError("Invalid Signature header")
	}
	signature, err := base64.StdEncoding.DecodeString(value[:end])
	if err != nil {
		return nil, aiderrors.SecurityError("Invalid Signature header")
	}
	return signature, nil
}

// buildSignatureBase reconstructs the canonical byte string the server
// signed: one line per covered component in server order with canonical
// identifier case, then the @signature-params line.
func buildSignatureBase(sigInput *signatureInput, challenge, method, targetURI, host, date string) []byte {
	values := map[string]string{
		"aid-challenge": challenge,
		"@method":       method,
		"@target-uri":   targetURI,
		"host":          host,
		"date":          date,
	}

	var lines []string
	quoted := make([]string, 0, len(sigInput.covered))
	for _, component := range sigInput.covered {
		lower := strings.ToLower(component)
		lines = append(lines, fmt.Sprintf("%q: %s", canonicalCase[lower], values[lower]))
		quoted = append(quoted, `"`+component+`"`)
	}
	params := fmt.Sprintf("(%s);created=%d;keyid=%s;alg=%q",
		strings.Join(quoted, " "), sigInput.created, sigInput.keyID, sigInput.alg)
	lines = append(lines, fmt.Sprintf("%q: %s", "@signature-params", params))
	return []byte(strings.Join(lines, "\n"))
}

// quotedStrings returns the contents of every double-quoted run in s.
func quotedStrings(s string) []string {
	var out []string
	for {
		open := strings.Index(s, `"`)
		if open < 0 {
			return out
		}
		s = s[open+1:]
		end := strings.Index(s, `"`)
		if end < 0 {
			return out
		}
		out = append(out, s[:end])
		s = s[end+1:]
	}
}

func stripQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// decodeMultibase decodes a multibase string, accepting only the "z"
// (base58btc) prefix.
func decodeMultibase(input string) ([]byte, error) {
	if input == "" {
		return nil, aiderrors.SecurityError("Empty PKA")
	}
	if input[0] != 'z' {
		return nil, aiderrors.SecurityError("Unsupported multibase prefix: %q", input[0])
	}
	decoded, err := base58.Decode(input[1:])
	if err != nil {
		return nil, aiderrors.SecurityError("Invalid base58 in PKA")
	}
	return decoded, nil
}
