package ask

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// Trust anchors for inbound request signatures. The certificate chain
// may only be fetched from this exact location.
const (
	certHost       = "s3.amazonaws.com"
	certPathPrefix = "/echo.api/"
	certSAN        = "echo-api.amazon.com"

	// Maximum allowed skew between the request timestamp and wall
	// clock, bounding replay windows.
	timestampTolerance = 150 * time.Second
)

// VerifyReason distinguishes why verification rejected a request.
type VerifyReason string

const (
	ReasonCertURL       VerifyReason = "certificate URL"
	ReasonCertificate   VerifyReason = "certificate"
	ReasonSignature     VerifyReason = "signature"
	ReasonTimestamp     VerifyReason = "timestamp"
	ReasonApplicationID VerifyReason = "application id"
)

// VerificationError reports a failed request-verification gate. The
// reason is for logs only; it is never echoed to the wire.
type VerificationError struct {
	Reason VerifyReason
	Detail string
}

// Error implements error.
func (e *VerificationError) Error() string {
	return fmt.Sprintf("ask: verification failed (%s): %s", e.Reason, e.Detail)
}

func verifyErr(reason VerifyReason, format string, args ...any) *VerificationError {
	return &VerificationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Verifier checks that a request was signed by the platform. Fetched
// certificates are memoized per chain URL, since the platform rotates
// them rarely and resends the same URL on every request.
type Verifier struct {
	client *http.Client

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

// NewVerifier creates a verifier. A nil client selects
// http.DefaultClient.
func NewVerifier(client *http.Client) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{client: client, certs: map[string]*x509.Certificate{}}
}

// Verify checks the signature over the exact raw body bytes against the
// certificate at certURL. Every gate fails closed with a
// *VerificationError carrying the reason.
func (v *Verifier) Verify(rawBody []byte, signatureB64, certURL string, now time.Time) error {
	if err := checkCertURL(certURL); err != nil {
		return err
	}

	cert, err := v.certificate(certURL)
	if err != nil {
		return err
	}
	if now.Before(cert.NotBefore) || !now.Before(cert.NotAfter) {
		return verifyErr(ReasonCertificate, "certificate outside validity window")
	}
	if !sanMatches(cert) {
		return verifyErr(ReasonCertificate, "certificate does not attest %s", certSAN)
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) == 0 {
		return verifyErr(ReasonSignature, "signature header is not valid base64")
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return verifyErr(ReasonCertificate, "certificate key is not RSA")
	}
	digest := sha1.Sum(rawBody)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], signature); err != nil {
		return verifyErr(ReasonSignature, "signature does not match body")
	}
	return nil
}

// checkCertURL gates the certificate location so an attacker-supplied
// URL can never be fetched: encrypted transport, the fixed trusted host,
// and the fixed path prefix after normalization.
func checkCertURL(certURL string) error {
	u, err := url.Parse(certURL)
	if err != nil {
		return verifyErr(ReasonCertURL, "unparseable: %q", certURL)
	}
	host := strings.ToLower(u.Host)
	if u.Scheme != "https" || (host != certHost && host != certHost+":443") {
		return verifyErr(ReasonCertURL, "untrusted location %q", certURL)
	}
	if !strings.HasPrefix(path.Clean(u.Path), certPathPrefix) {
		return verifyErr(ReasonCertURL, "untrusted path %q", u.Path)
	}
	return nil
}

// certificate returns the leaf certificate at certURL, fetching it on
// first use. The fetch is a single best-effort attempt; failure rejects
// the request.
func (v *Verifier) certificate(certURL string) (*x509.Certificate, error) {
	v.mu.Lock()
	cached, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok {
		return cached, nil
	}

	resp, err := v.client.Get(certURL)
	if err != nil {
		return nil, verifyErr(ReasonCertificate, "fetch failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, verifyErr(ReasonCertificate, "fetch returned status %d", resp.StatusCode)
	}
	pemBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, verifyErr(ReasonCertificate, "fetch read: %v", err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, verifyErr(ReasonCertificate, "no PEM data at %q", certURL)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, verifyErr(ReasonCertificate, "parse: %v", err)
	}

	v.mu.Lock()
	v.certs[certURL] = cert
	v.mu.Unlock()
	return cert, nil
}

func sanMatches(cert *x509.Certificate) bool {
	for _, name := range cert.DNSNames {
		if strings.EqualFold(name, certSAN) {
			return true
		}
	}
	return false
}

// verifyTimestamp bounds replay: the embedded request timestamp must be
// within tolerance of wall-clock time.
func verifyTimestamp(ts, now time.Time) error {
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if ts.IsZero() || skew > timestampTolerance {
		return verifyErr(ReasonTimestamp, "request timestamp outside ±%s", timestampTolerance)
	}
	return nil
}

// verifyApplicationID checks the request's application id against the
// configured allow-list.
func verifyApplicationID(appID string, allowed []string) error {
	for _, id := range allowed {
		if appID == id {
			return nil
		}
	}
	return verifyErr(ReasonApplicationID, "application %q not allow-listed", appID)
}
