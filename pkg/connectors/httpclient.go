package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/logging"
	"github.com/ekaya-inc/incident-engine/pkg/retry"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxBodyBytes        = 10 << 20
	userAgent           = "incident-engine/1.0 (+https://github.com/ekaya-inc/incident-engine)"
)

// newHTTPClient returns a client with bounded dial and handshake times.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// fetcher performs GETs for one source with retries on transient failures.
type fetcher struct {
	source  string
	client  *http.Client
	headers map[string]string
	retry   *retry.Config
}

func newFetcher(source string, timeout time.Duration, headers map[string]string) *fetcher {
	return &fetcher{
		source:  source,
		client:  newHTTPClient(timeout),
		headers: headers,
		retry:   retry.FeedConfig(),
	}
}

// get returns the response body of rawURL. Non-2xx responses become
// *apperrors.SourceFetchError carrying the status code.
func (f *fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	return retry.DoIfRetryableWithResult(ctx, f.retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, &apperrors.SourceFetchError{Source: f.source, Cause: redactURLError(err)}
		}
		req.Header.Set("User-Agent", userAgent)
		for k, v := range f.headers {
			req.Header.Set(k, v)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, &apperrors.SourceFetchError{Source: f.source, Cause: redactURLError(err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &apperrors.SourceFetchError{
				Source:     f.source,
				StatusCode: resp.StatusCode,
				Cause:      fmt.Errorf("%s", strings.TrimSpace(string(b))),
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
		if err != nil {
			return nil, &apperrors.SourceFetchError{Source: f.source, Cause: fmt.Errorf("read body: %w", err)}
		}
		if len(body) > maxBodyBytes {
			return nil, &apperrors.SourceFetchError{Source: f.source, Cause: fmt.Errorf("response exceeds %d bytes", maxBodyBytes)}
		}
		return body, nil
	})
}

// redactURLError strips secret query parameters from the URL a *url.Error
// carries. The error chain is kept so retry classification still works.
func redactURLError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: logging.SanitizeURL(ue.URL), Err: ue.Err}
}
