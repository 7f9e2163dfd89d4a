// Package proxy forwards /api/* calls verbatim to fixed vendor URLs,
// adding server-held credentials to the forwarded query string.
package proxy

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/windfall/pronunciation_service/internal/errors"
	"github.com/windfall/pronunciation_service/internal/metrics"
	"github.com/windfall/pronunciation_service/pkg/response"
)

// Credentials returns the query parameters injected into a forwarded call.
// A nil error with missing values is reported as a configuration error.
type Credentials func(ctx context.Context) (url.Values, error)

// Route maps a path to a downstream URL.
type Route struct {
	Path        string
	Vendor      string
	Target      string
	Credentials Credentials
}

// TokenSource hands out a vendor access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config holds the downstream endpoints and secrets.
type Config struct {
	BaiduTokenURL  string
	BaiduTTSURL    string
	BaiduAPIKey    string
	BaiduSecretKey string
	BaiduCUID      string
	EvaluationURL  string
	XunfeiAppID    string
	XunfeiAPIKey   string
}

// Routes builds the three passthrough routes.
func Routes(cfg Config, tokens TokenSource) []Route {
	return []Route{
		{
			Path:   "/api/token",
			Vendor: "baidu",
			Target: cfg.BaiduTokenURL,
			Credentials: static(map[string]string{
				"grant_type":    "client_credentials",
				"client_id":     cfg.BaiduAPIKey,
				"client_secret": cfg.BaiduSecretKey,
			}),
		},
		{
			Path:   "/api/text2audio",
			Vendor: "baidu",
			Target: cfg.BaiduTTSURL,
			Credentials: func(ctx context.Context) (url.Values, error) {
				if tokens == nil {
					return nil, errors.ServerConfiguration()
				}
				tok, err := tokens.AccessToken(ctx)
				if err != nil {
					return nil, err
				}
				return url.Values{"tok": {tok}, "cuid": {cfg.BaiduCUID}}, nil
			},
		},
		{
			Path:   "/api/evaluation",
			Vendor: "xunfei",
			Target: cfg.EvaluationURL,
			Credentials: static(map[string]string{
				"appid":   cfg.XunfeiAppID,
				"api_key": cfg.XunfeiAPIKey,
			}),
		},
	}
}

func static(values map[string]string) Credentials {
	return func(ctx context.Context) (url.Values, error) {
		q := url.Values{}
		for k, v := range values {
			q.Set(k, v)
		}
		return q, nil
	}
}

type forwardKey struct{}

type forward struct {
	query   url.Values
	started time.Time
}

// Passthrough is the reverse proxy for a set of routes.
type Passthrough struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// New creates a passthrough proxy.
func New(timeout time.Duration, log zerolog.Logger) *Passthrough {
	return &Passthrough{
		log:     log,
		metrics: metrics.DefaultMetrics,
		timeout: timeout,
	}
}

// Handler returns the handler forwarding to route.Target.
func (p *Passthrough) Handler(route Route) http.HandlerFunc {
	target, err := url.Parse(route.Target)
	if route.Target == "" || err != nil || target.Scheme == "" || target.Host == "" {
		return func(w http.ResponseWriter, r *http.Request) {
			p.log.Error().Str("route", route.Path).Msg("Passthrough target not configured")
			response.Error(w, errors.ServerConfiguration())
		}
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			fwd, _ := pr.In.Context().Value(forwardKey{}).(*forward)

			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = target.Path
			pr.Out.URL.RawPath = target.RawPath
			pr.Out.Host = target.Host

			q := target.Query()
			for k, vs := range pr.In.URL.Query() {
				q[k] = vs
			}
			if fwd != nil {
				for k, vs := range fwd.query {
					q[k] = vs
				}
			}
			pr.Out.URL.RawQuery = q.Encode()
		},
		ModifyResponse: func(resp *http.Response) error {
			if fwd, ok := resp.Request.Context().Value(forwardKey{}).(*forward); ok {
				p.metrics.RecordVendorCall(route.Vendor, "passthrough", strconv.Itoa(resp.StatusCode), fwd.started)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			var appErr error = errors.ConnectionFailed(route.Vendor, err)
			if stderrors.Is(err, context.DeadlineExceeded) {
				appErr = errors.VendorTimeout(route.Vendor, err)
			}
			p.log.Warn().Err(appErr).Str("route", route.Path).Msg("Passthrough call failed")
			if fwd, ok := r.Context().Value(forwardKey{}).(*forward); ok {
				p.metrics.RecordVendorCall(route.Vendor, "passthrough", string(errors.CodeOf(appErr)), fwd.started)
			}
			response.Error(w, appErr)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		query, err := route.Credentials(ctx)
		if err != nil {
			p.log.Warn().Err(err).Str("route", route.Path).Msg("Failed to resolve passthrough credentials")
			response.Error(w, err)
			return
		}
		for k := range query {
			if query.Get(k) == "" {
				p.log.Error().Str("route", route.Path).Str("param", k).Msg("Passthrough credential missing")
				response.Error(w, errors.ServerConfiguration())
				return
			}
		}

		ctx = context.WithValue(ctx, forwardKey{}, &forward{query: query, started: time.Now()})
		rp.ServeHTTP(w, r.WithContext(ctx))
	}
}
