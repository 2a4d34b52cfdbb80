package anystore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureAlgorithm = "AWS4-HMAC-SHA256"
	MaxExpiresSeconds  = 604800 // 7 days
	DateTimeFormat     = "20060102T150405Z"
	DateFormat         = "20060102"

	unsignedPayload = "UNSIGNED-PAYLOAD"
)

// Signer produces AWS Signature V4 presigned URLs for backends that have no
// native presign support. The URLs point at a gateway that checks them with
// a Verifier configured with the same region, service and keys.
type Signer struct {
	Endpoint  *url.URL
	Region    string
	Service   string
	AccessKey string
	SecretKey string

	now func() time.Time
}

// NewSigner creates a signer for the gateway at endpoint.
func NewSigner(endpoint, region, service, accessKey, secretKey string) (*Signer, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse presign endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse presign endpoint: %q is not an absolute url", endpoint)
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("presign signer: access key and secret key are required")
	}
	return &Signer{
		Endpoint:  u,
		Region:    region,
		Service:   service,
		AccessKey: accessKey,
		SecretKey: secretKey,
		now:       time.Now,
	}, nil
}

// Presign signs a request for method on path, valid for expires.
func (s *Signer) Presign(method, path string, expires time.Duration) (PresignedRequest, error) {
	seconds := int(expires / time.Second)
	if seconds <= 0 || seconds > MaxExpiresSeconds {
		return PresignedRequest{}, &Error{
			Kind:      KindInvalidInput,
			Operation: OpPresign,
			Path:      path,
			Message:   fmt.Sprintf("expiry must be between 1 and %d seconds", MaxExpiresSeconds),
		}
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	t := now().UTC()
	dateStamp := t.Format(DateFormat)

	u := *s.Endpoint
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + path
	u.RawPath = ""

	query := url.Values{}
	query.Set("X-Amz-Algorithm", SignatureAlgorithm)
	query.Set("X-Amz-Credential", fmt.Sprintf("%s/%s/%s/%s/aws4_request", s.AccessKey, dateStamp, s.Region, s.Service))
	query.Set("X-Amz-Date", t.Format(DateTimeFormat))
	query.Set("X-Amz-Expires", strconv.Itoa(seconds))
	query.Set("X-Amz-SignedHeaders", "host")

	headers := http.Header{}
	headers.Set("Host", u.Host)

	signature := calculateSignature(s.SecretKey, method, u.Path, query, headers, t, dateStamp, s.Region, s.Service, "host")
	query.Set("X-Amz-Signature", signature)
	u.RawQuery = query.Encode()

	return PresignedRequest{Method: method, URL: &u, Header: http.Header{}}, nil
}

// Verifier checks AWS Signature V4 presigned URLs.
type Verifier struct {
	Region          string
	Service         string
	AccessKeyLookup func(accessKey string) (secretKey string, found bool)

	now func() time.Time
}

// NewVerifier creates a verifier.
//
// Parameters:
//   - region: AWS region (e.g., "us-east-1")
//   - service: AWS service name (e.g., "s3")
//   - lookup: Function to retrieve secret key by access key. Returns (secretKey, true) if found, ("", false) if not.
func NewVerifier(region, service string, lookup func(string) (string, bool)) *Verifier {
	return &Verifier{
		Region:          region,
		Service:         service,
		AccessKeyLookup: lookup,
		now:             time.Now,
	}
}

// Verify checks a presigned request.
//
// Required query parameters:
//   - X-Amz-Algorithm: Must be "AWS4-HMAC-SHA256"
//   - X-Amz-Credential: Format "access_key/date/region/service/aws4_request"
//   - X-Amz-Date: ISO8601 timestamp (YYYYMMDDTHHMMSSZ)
//   - X-Amz-Expires: Validity duration in seconds (1-604800)
//   - X-Amz-SignedHeaders: Semicolon-separated list of signed headers
//   - X-Amz-Signature: Hex-encoded HMAC-SHA256 signature
//
// Every failure is a PermissionDenied error, except a missing signature
// which is InvalidInput.
func (v *Verifier) Verify(method, path string, query url.Values, headers http.Header) error {
	params, err := v.extractParams(query)
	if err != nil {
		return err
	}

	if err := v.validateParams(params); err != nil {
		return err
	}

	secretKey, found := v.AccessKeyLookup(params.accessKey)
	if !found {
		return denied("invalid access key")
	}

	expectedSignature := calculateSignature(
		secretKey,
		method,
		path,
		query,
		headers,
		params.requestTime,
		params.dateStamp,
		params.region,
		params.service,
		params.signedHeaders,
	)

	if !hmac.Equal([]byte(expectedSignature), []byte(params.signature)) {
		return denied("signature mismatch")
	}

	return nil
}

func denied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Operation: OpPresign, Message: message}
}

type signatureParams struct {
	algorithm     string
	accessKey     string
	dateStamp     string
	region        string
	service       string
	requestTime   time.Time
	expires       int
	signedHeaders string
	signature     string
}

func (v *Verifier) extractParams(query url.Values) (*signatureParams, error) {
	amzAlgorithm := query.Get("X-Amz-Algorithm")
	amzCredential := query.Get("X-Amz-Credential")
	amzDate := query.Get("X-Amz-Date")
	amzExpires := query.Get("X-Amz-Expires")
	amzSignedHeaders := query.Get("X-Amz-SignedHeaders")
	amzSignature := query.Get("X-Amz-Signature")

	if amzAlgorithm == "" || amzCredential == "" || amzDate == "" ||
		amzExpires == "" || amzSignedHeaders == "" || amzSignature == "" {
		return nil, &Error{Kind: KindInvalidInput, Operation: OpPresign, Message: "missing required signature parameters"}
	}

	requestTime, err := time.Parse(DateTimeFormat, amzDate)
	if err != nil {
		return nil, denied("invalid X-Amz-Date format")
	}

	expires, err := strconv.Atoi(amzExpires)
	if err != nil || expires <= 0 || expires > MaxExpiresSeconds {
		return nil, denied(fmt.Sprintf("invalid X-Amz-Expires: must be between 1 and %d", MaxExpiresSeconds))
	}

	credParts := strings.Split(amzCredential, "/")
	if len(credParts) != 5 {
		return nil, denied("invalid X-Amz-Credential format")
	}

	if credParts[4] != "aws4_request" {
		return nil, denied("invalid credential terminator: expected aws4_request")
	}

	return &signatureParams{
		algorithm:     amzAlgorithm,
		accessKey:     credParts[0],
		dateStamp:     credParts[1],
		region:        credParts[2],
		service:       credParts[3],
		requestTime:   requestTime,
		expires:       expires,
		signedHeaders: amzSignedHeaders,
		signature:     amzSignature,
	}, nil
}

func (v *Verifier) validateParams(params *signatureParams) error {
	if params.algorithm != SignatureAlgorithm {
		return denied(fmt.Sprintf("invalid algorithm: expected %s, got %s", SignatureAlgorithm, params.algorithm))
	}

	now := time.Now
	if v.now != nil {
		now = v.now
	}
	if now().After(params.requestTime.Add(time.Duration(params.expires) * time.Second)) {
		return denied("signature expired")
	}

	if params.dateStamp != params.requestTime.Format(DateFormat) {
		return denied("credential date mismatch")
	}

	if params.region != v.Region {
		return denied(fmt.Sprintf("region mismatch: expected %s, got %s", v.Region, params.region))
	}

	if params.service != v.Service {
		return denied(fmt.Sprintf("service mismatch: expected %s, got %s", v.Service, params.service))
	}

	return nil
}

func calculateSignature(
	secretKey, method, path string,
	query url.Values,
	headers http.Header,
	requestTime time.Time,
	dateStamp, region, service, signedHeaders string,
) string {
	canonicalRequest := buildCanonicalRequest(method, path, query, headers, signedHeaders)

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, region, service)
	stringToSign := buildStringToSign(requestTime, credentialScope, canonicalRequest)

	signingKey := deriveSigningKey(secretKey, dateStamp, region, service)

	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

func buildCanonicalRequest(method, path string, query url.Values, headers http.Header, signedHeaders string) string {
	return strings.Join([]string{
		method,
		path,
		buildCanonicalQueryString(query),
		buildCanonicalHeaders(headers, signedHeaders),
		signedHeaders,
		unsignedPayload,
	}, "\n")
}

// buildCanonicalHeaders formats the signed headers, sorted, as "name:value\n".
func buildCanonicalHeaders(headers http.Header, signedHeaders string) string {
	headerNames := strings.Split(signedHeaders, ";")
	sort.Strings(headerNames)

	var result strings.Builder
	for _, name := range headerNames {
		result.WriteString(name)
		result.WriteString(":")
		result.WriteString(strings.TrimSpace(headers.Get(name)))
		result.WriteString("\n")
	}
	return result.String()
}

func buildCanonicalQueryString(query url.Values) string {
	params := url.Values{}
	for k, v := range query {
		if k != "X-Amz-Signature" {
			params[k] = v
		}
	}
	return params.Encode()
}

func buildStringToSign(requestTime time.Time, credentialScope, canonicalRequest string) string {
	return strings.Join([]string{
		SignatureAlgorithm,
		requestTime.Format(DateTimeFormat),
		credentialScope,
		sha256Hash(canonicalRequest),
	}, "\n")
}

func deriveSigningKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Hash(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}
