package pka

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/mr-tron/base58"

	aiderrors "github.com/agentcommunity/aid-go/errors"
	blog "github.com/agentcommunity/aid-go/log"
	"github.com/agentcommunity/aid-go/metrics"
	"github.com/agentcommunity/aid-go/test"
)

var defaultCovered = []string{"aid-challenge", "@method", "@target-uri", "host", "date"}

// signingServer is a handshake responder that reads the challenge from the
// request and signs whatever its configuration says, the way a conforming
// (or deliberately misbehaving) agent endpoint would.
type signingServer struct {
	privateKey ed25519.PrivateKey
	keyID      string
	alg        string
	covered    []string
	// createdOffset shifts the created parameter away from now.
	createdOffset time.Duration
	// dateOffset shifts the response Date header away from now.
	dateOffset time.Duration
	// omitDate suppresses the response Date header entirely.
	omitDate bool
	// rawDate overrides the response Date header verbatim.
	rawDate string
	// status, when non-zero, is returned without signature headers.
	status int
	// omitSignatureHeaders responds 200 with no signature headers.
	omitSignatureHeaders bool

	// lastChallenge records the AID-Challenge value the server saw.
	lastChallenge string
}

func (s *signingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	if s.omitSignatureHeaders {
		w.WriteHeader(http.StatusOK)
		return
	}

	challenge := r.Header.Get("AID-Challenge")
	s.lastChallenge = challenge
	targetURI := "http://" + r.Host + r.URL.RequestURI()

	date := time.Now().Add(s.dateOffset).UTC().Format(http.TimeFormat)
	if s.rawDate != "" {
		date = s.rawDate
	}
	signedDate := date
	if s.omitDate {
		// A server that omits Date signs the client's request date, which
		// is what the client falls back to.
		w.Header()["Date"] = nil
		signedDate = r.Header.Get("Date")
	} else {
		w.Header().Set("Date", date)
	}

	created := time.Now().Add(s.createdOffset).Unix()
	base := serverSignatureBase(s.covered, created, s.keyID, s.alg, challenge, r.Method, targetURI, r.Host, signedDate)
	signature := ed25519.Sign(s.privateKey, base)

	quoted := make([]string, len(s.covered))
	for i, component := range s.covered {
		quoted[i] = `"` + component + `"`
	}
	w.Header().Set("Signature-Input",
		fmt.Sprintf("sig=(%s);created=%d;keyid=%s;alg=%q", strings.Join(quoted, " "), created, s.keyID, s.alg))
	w.Header().Set("Signature",
		fmt.Sprintf("sig=:%s:", base64.StdEncoding.EncodeToString(signature)))
	w.WriteHeader(http.StatusOK)
}

// serverSignatureBase builds the base the responder signs. It mirrors what
// a conforming server implements from the handshake description, written
// independently of the client's builder.
func serverSignatureBase(covered []string, created int64, keyID, alg, challenge, method, targetURI, host, date string) []byte {
	labels := map[string]string{
		"aid-challenge": "AID-Challenge",
		"@method":       "@method",
		"@target-uri":   "@target-uri",
		"host":          "host",
		"date":          "date",
	}
	values := map[string]string{
		"aid-challenge": challenge,
		"@method":       method,
		"@target-uri":   targetURI,
		"host":          host,
		"date":          date,
	}
	var lines []string
	quoted := make([]string, 0, len(covered))
	for _, component := range covered {
		lower := strings.ToLower(component)
		lines = append(lines, fmt.Sprintf("%q: %s", labels[lower], values[lower]))
		quoted = append(quoted, `"`+component+`"`)
	}
	lines = append(lines, fmt.Sprintf(`"@signature-params": (%s);created=%d;keyid=%s;alg=%q`,
		strings.Join(quoted, " "), created, keyID, alg))
	return []byte(strings.Join(lines, "\n"))
}

// setupHandshake generates a keypair and starts a responder for it,
// returning the verifier, the handshake target URI, the multibase key, and
// the server for per-test tweaks.
func setupHandshake(t *testing.T) (*Verifier, string, string, *signingServer) {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	test.AssertNotError(t, err, "failed to generate keypair")

	server := &signingServer{
		privateKey: privateKey,
		keyID:      "g1",
		alg:        "ed25519",
		covered:    defaultCovered,
	}
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	verifier := New(clock.New(), blog.NewMock(), metrics.NewNoopScope())
	return verifier, ts.URL + "/agent", "z" + base58.Encode(publicKey), server
}

func assertSecurityError(t *testing.T, err error, detailFragment string) {
	t.Helper()
	test.AssertError(t, err, "expected handshake failure")
	if !aiderrors.Is(err, aiderrors.Security) {
		t.Fatalf("expected ERR_SECURITY, got %v", err)
	}
	test.AssertContains(t, err.Error(), detailFragment)
}

func TestVerifySuccess(t *testing.T) {
	verifier, uri, pka, _ := setupHandshake(t)
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	test.AssertNotError(t, err, "handshake should verify")
}

func TestVerifyChallengeSeam(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	verifier.newChallenge = func() (string, error) { return "fixed-test-challenge", nil }
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	test.AssertNotError(t, err, "handshake should verify")
	test.AssertEquals(t, server.lastChallenge, "fixed-test-challenge")
}

func TestVerifyKidMismatch(t *testing.T) {
	verifier, uri, pka, _ := setupHandshake(t)
	err := verifier.Verify(context.Background(), uri, pka, "g2", 2*time.Second)
	assertSecurityError(t, err, "keyid mismatch")
}

func TestVerifyQuotedKeyid(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.keyID = `"g1"`
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	test.AssertNotError(t, err, "quoted keyid should verify")
}

func TestVerifyCoveredSetTooNarrow(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.covered = []string{"aid-challenge", "@method"}
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "cover exactly the required components")
}

func TestVerifyCoveredSetExtraComponent(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.covered = append(append([]string{}, defaultCovered...), "content-type")
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "unexpected component")
}

func TestVerifyCoveredSetMixedCase(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.covered = []string{"AID-Challenge", "@method", "@target-uri", "Host", "Date"}
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	test.AssertNotError(t, err, "case-insensitive covered set should verify")
}

func TestVerifyStaleCreated(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.createdOffset = -1000 * time.Second
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "created timestamp outside acceptance window")
}

func TestVerifyFutureCreated(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.createdOffset = 1000 * time.Second
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "created timestamp outside acceptance window")
}

func TestVerifyStaleDate(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.dateOffset = -1000 * time.Second
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "Date header outside acceptance window")
}

func TestVerifyMalformedDate(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.rawDate = "not a date"
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "Invalid Date header")
}

func TestVerifyOmittedDateFallsBackToRequestDate(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.omitDate = true
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	test.AssertNotError(t, err, "handshake without a response Date should verify")
}

func TestVerifyNon2xx(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.status = http.StatusNotFound
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "Handshake HTTP 404")
}

func TestVerifyRedirectNotFollowed(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.status = http.StatusFound
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "Handshake HTTP 302")
}

func TestVerifyMissingSignatureHeaders(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.omitSignatureHeaders = true
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "Missing signature headers")
}

func TestVerifyBadAlgorithm(t *testing.T) {
	verifier, uri, pka, server := setupHandshake(t)
	server.alg = "rsa-pss-sha512"
	err := verifier.Verify(context.Background(), uri, pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "Unsupported signature algorithm")
}

func TestVerifyWrongKey(t *testing.T) {
	verifier, uri, _, _ := setupHandshake(t)
	otherPublic, _, err := ed25519.GenerateKey(rand.Reader)
	test.AssertNotError(t, err, "failed to generate second keypair")
	err = verifier.Verify(context.Background(), uri, "z"+base58.Encode(otherPublic), "g1", 2*time.Second)
	assertSecurityError(t, err, "PKA signature verification failed")
}

func TestVerifyBadMultibasePrefix(t *testing.T) {
	verifier, uri, pka, _ := setupHandshake(t)
	err := verifier.Verify(context.Background(), uri, "m"+pka[1:], "g1", 2*time.Second)
	assertSecurityError(t, err, "Unsupported multibase prefix")
}

func TestVerifyShortKey(t *testing.T) {
	verifier, uri, _, _ := setupHandshake(t)
	short := "z" + base58.Encode([]byte("sixteen byte key"))
	err := verifier.Verify(context.Background(), uri, short, "g1", 2*time.Second)
	assertSecurityError(t, err, "Invalid PKA length")
}

func TestVerifyEmptyKid(t *testing.T) {
	verifier, uri, pka, _ := setupHandshake(t)
	err := verifier.Verify(context.Background(), uri, pka, "", 2*time.Second)
	assertSecurityError(t, err, "Missing kid")
}

func TestVerifyBadURI(t *testing.T) {
	verifier, _, pka, _ := setupHandshake(t)
	err := verifier.Verify(context.Background(), "not a uri", pka, "g1", 2*time.Second)
	assertSecurityError(t, err, "Invalid URI for handshake")
}

func TestVerifyUnreachableEndpoint(t *testing.T) {
	verifier, _, pka, _ := setupHandshake(t)
	err := verifier.Verify(context.Background(), "http://127.0.0.1:1/agent", pka, "g1", 500*time.Millisecond)
	assertSecurityError(t, err, "Handshake request failed")
}

func TestParseSignatureInputRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"sig=abc",
		`sig=("aid-challenge" "@method")`,
		`sig=("aid-challenge" "@method" "@target-uri" "host" "date")`,
		`sig=("aid-challenge" "@method" "@target-uri" "host" "date");keyid=g1;alg="ed25519"`,
		`sig=("aid-challenge" "@method" "@target-uri" "host" "date");created=10;alg="ed25519"`,
		`sig=("aid-challenge" "@method" "@target-uri" "host" "date");created=10;keyid=g1`,
	}
	for _, header := range cases {
		_, err := parseSignatureInput(header)
		test.AssertError(t, err, "header should be rejected: "+header)
	}
}

func TestParseSignatureRejectsGarbage(t *testing.T) {
	for _, header := range []string{"", "sig=abc", "sig=:abc", "sig=:!!!:"} {
		_, err := parseSignature(header)
		test.AssertError(t, err, "header should be rejected: "+header)
	}
}
