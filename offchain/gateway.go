package offchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mohans/arbridge/internal/logging"
)

const (
	DefaultGatewayURL     = "https://arweave.net"
	defaultRequestTimeout = 5 * time.Second
	maxBodyBytes          = 1 << 20
)

// Gateway is the subset of the Arweave HTTP API the pipeline talks to.
type Gateway interface {
	Price(ctx context.Context, dataLen int) (uint64, error)
	TxAnchor(ctx context.Context) (string, error)
	PostTransaction(ctx context.Context, body []byte) error
	TransactionStatus(ctx context.Context, txID string) (int, error)
}

// GatewayClient calls an Arweave gateway over HTTP; every call has its own deadline.
type GatewayClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	log     logging.Logger
}

type GatewayOptions struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Log     logging.Logger
}

func NewGatewayClient(opts GatewayOptions) *GatewayClient {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultGatewayURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &GatewayClient{
		baseURL: base,
		client:  client,
		timeout: timeout,
		log:     logging.Default(opts.Log, "arweave-gateway"),
	}
}

// Price returns the fee, in winston, for storing dataLen bytes.
func (g *GatewayClient) Price(ctx context.Context, dataLen int) (uint64, error) {
	body, err := g.getText(ctx, fmt.Sprintf("/price/%d", dataLen))
	if err != nil {
		return 0, err
	}
	fee, err := strconv.ParseUint(strings.TrimSpace(body), 10, 64)
	if err != nil {
		g.log.Warnf("can not parse price %q as u64", body)
		return 0, &HTTPRequestError{Kind: Unknown, Err: err}
	}
	return fee, nil
}

// TxAnchor returns a recent anchor to bind a new transaction to.
func (g *GatewayClient) TxAnchor(ctx context.Context) (string, error) {
	return g.getText(ctx, "/tx_anchor")
}

// PostTransaction submits a signed transaction. Only a 200 counts as accepted.
func (g *GatewayClient) PostTransaction(ctx context.Context, body []byte) error {
	resp, err := g.do(ctx, http.MethodPost, "/tx", body, func(req *http.Request) {
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode != http.StatusOK {
		g.log.Warnf("unexpected status code: %d", resp.StatusCode)
		return &HTTPRequestError{Kind: Unknown, Status: resp.StatusCode}
	}
	return nil
}

// TransactionStatus returns the raw status code of GET /tx/{id}.
func (g *GatewayClient) TransactionStatus(ctx context.Context, txID string) (int, error) {
	resp, err := g.do(ctx, http.MethodGet, "/tx/"+txID, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, nil
}

func (g *GatewayClient) getText(ctx context.Context, path string) (string, error) {
	resp, err := g.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.log.Warnf("unexpected status code: %d", resp.StatusCode)
		return "", &HTTPRequestError{Kind: Unknown, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", g.classify(ctx, err)
	}
	if !utf8.Valid(data) {
		g.log.Warnf("no utf8 body from %s", path)
		return "", &HTTPRequestError{Kind: Unknown, Err: errors.New("body is not utf8")}
	}
	return string(data), nil
}

// do issues the request under a deadline. The caller closes the body.
func (g *GatewayClient) do(ctx context.Context, method, path string, body []byte, decorate func(*http.Request)) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		cancel()
		return nil, &HTTPRequestError{Kind: IoError, Err: err}
	}
	if decorate != nil {
		decorate(req)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, g.classify(ctx, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (g *GatewayClient) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &HTTPRequestError{Kind: DeadlineReached, Err: err}
	}
	return &HTTPRequestError{Kind: IoError, Err: err}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
