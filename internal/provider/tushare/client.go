package tushare

import (
    "net/http"
)

const defaultBaseURL = "http://api.tushare.pro"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=tushare_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
    Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Tushare Pro RPC endpoint. All calls go through
// a single POST URL; the api_name field in the body selects the dataset.
type Client struct {
    // baseURL is the RPC endpoint URL.
    baseURL string
    // token authenticates every call.
    token string
    // httpClient performs the requests.
    httpClient HTTPClient
    // header contains additional headers sent with each request.
    header http.Header
}

// ClientOption is a configuration option for the Tushare client.
type ClientOption func(*Client)

// WithBaseURL overrides the RPC endpoint URL.
func WithBaseURL(baseURL string) ClientOption {
    return func(c *Client) {
        c.baseURL = baseURL
    }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
    return func(c *Client) {
        c.httpClient = httpClient
    }
}

// WithHeader adds headers sent with each request.
func WithHeader(header http.Header) ClientOption {
    return func(c *Client) {
        for key, values := range header {
            for _, value := range values {
                c.header.Add(key, value)
            }
        }
    }
}

// NewClient creates a new Tushare client. An empty token is allowed; calls
// will fail server-side, and HasToken lets callers gate on it up front.
func NewClient(token string, options ...ClientOption) (*Client, error) {
    var client = &Client{
        baseURL:    defaultBaseURL,
        token:      token,
        httpClient: http.DefaultClient,
        header:     http.Header{},
    }
    for _, option := range options {
        option(client)
    }
    return client, nil
}

// HasToken reports whether the client was built with a non-empty token.
func (c *Client) HasToken() bool {
    return c != nil && c.token != ""
}
