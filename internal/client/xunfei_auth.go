package client

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// XunfeiSignature is the result of signing one handshake.
type XunfeiSignature struct {
	Signature     string
	Authorization string
}

// SignXunfei signs "host: <host>\ndate: <date>\n<requestLine>" with
// HMAC-SHA256 and builds the base64 authorization value the vendor expects.
// Identical inputs always yield identical output.
func SignXunfei(host, date, requestLine, apiKey, apiSecret string) XunfeiSignature {
	origin := fmt.Sprintf("host: %s\ndate: %s\n%s", host, date, requestLine)

	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authOrigin := fmt.Sprintf(
		`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		apiKey, signature,
	)

	return XunfeiSignature{
		Signature:     signature,
		Authorization: base64.StdEncoding.EncodeToString([]byte(authOrigin)),
	}
}

// signXunfeiURL appends host, date and authorization query parameters to
// a websocket endpoint.
func signXunfeiURL(endpoint, apiKey, apiSecret string, now time.Time) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid xunfei endpoint: %w", err)
	}

	date := now.UTC().Format(http.TimeFormat)
	requestLine := fmt.Sprintf("GET %s HTTP/1.1", u.EscapedPath())
	sig := SignXunfei(u.Host, date, requestLine, apiKey, apiSecret)

	q := u.Query()
	q.Set("authorization", sig.Authorization)
	q.Set("date", date)
	q.Set("host", u.Host)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
