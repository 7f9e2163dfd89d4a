package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/windfall/pronunciation_service/internal/errors"
)

// Vendor names used in logs, metrics and error details.
const (
	vendorXunfei      = "xunfei"
	vendorSiliconFlow = "siliconflow"
	vendorGemini      = "gemini"
	vendorAzure       = "azure"
	vendorBaidu       = "baidu"
)

// transportError classifies a failed HTTP round trip. The result never
// carries the request URL, whose query may hold credentials.
func transportError(ctx context.Context, vendor string, err error) error {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		err = fmt.Errorf("%s %s: %w", urlErr.Op, vendor, urlErr.Err)
	}
	if ctx.Err() == context.DeadlineExceeded || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.VendorTimeout(vendor, err)
	}
	if ctx.Err() == context.Canceled {
		return fmt.Errorf("%s call canceled: %w", vendor, ctx.Err())
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.VendorTimeout(vendor, err)
	}
	return errors.ConnectionFailed(vendor, err)
}

// statusError turns a non-2xx reply into VendorUnavailable. The body is
// returned separately for debug logging only.
func statusError(vendor string, resp *http.Response) (string, error) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusText := resp.Status
	if statusText == "" {
		statusText = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return string(body), errors.VendorUnavailable(vendor, resp.StatusCode, statusText)
}

// audioExtension maps a MIME type to the file extension vendors sniff.
func audioExtension(mimeType string) string {
	switch baseMIME(mimeType) {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/x-m4a", "audio/aac":
		return "m4a"
	case "audio/flac":
		return "flac"
	default:
		return "webm"
	}
}

// baseMIME strips parameters such as ";codecs=opus".
func baseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
