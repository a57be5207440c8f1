// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/basins3/pkg/backend"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/filter"
	"github.com/LeeDigitalWorks/basins3/pkg/gateway/service"
	"github.com/LeeDigitalWorks/basins3/pkg/index"
	"github.com/LeeDigitalWorks/basins3/pkg/network"
	"github.com/LeeDigitalWorks/basins3/pkg/network/memory"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3err"
	"github.com/LeeDigitalWorks/basins3/pkg/s3api/signature"
	"github.com/LeeDigitalWorks/basins3/pkg/staging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServerOption configures a test server
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	readOnly   bool
	accessKey  string
	secretKey  string
	maxUploads int
	client     *memory.Client
	signer     network.Signer
}

// WithReadOnly runs the gateway without a signer.
func WithReadOnly() TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.readOnly = true
	}
}

// WithCredentials puts the authentication filter in the chain. Requests
// sent with do are signed with the key pair.
func WithCredentials(accessKey, secretKey string) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.accessKey = accessKey
		cfg.secretKey = secretKey
	}
}

// WithMaxUploads caps open multipart sessions.
func WithMaxUploads(n int) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.maxUploads = n
	}
}

// WithNetwork runs the gateway on a shared network with the given wallet,
// the way several gateway instances run in front of one chain.
func WithNetwork(client *memory.Client, signer network.Signer) TestServerOption {
	return func(cfg *testServerConfig) {
		cfg.client = client
		cfg.signer = signer
	}
}

type testServer struct {
	*Server
	stager *staging.Stager
	cfg    testServerConfig
}

// newTestServer wires the full stack over an in-memory network. The
// "photos" bucket exists unless the server is read-only.
func newTestServer(t *testing.T, opts ...TestServerOption) *testServer {
	t.Helper()
	var cfg testServerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	signer := cfg.signer
	if !cfg.readOnly && signer == nil {
		s, err := network.GenerateKeySigner()
		require.NoError(t, err)
		signer = s
	}
	client := cfg.client
	if client == nil {
		client = memory.New(0)
	}
	adapter := backend.New(backend.Config{
		Client: client,
		Signer: signer,
		Retry: backend.RetryPolicy{
			MaxAttempts:    2,
			BaseDelay:      time.Millisecond,
			MaxDelay:       time.Millisecond,
			AttemptTimeout: 5 * time.Second,
		},
	})
	ix := index.New(index.NewMemoryStore(0, 0), adapter)
	stager, err := staging.New(staging.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	svc, err := service.NewService(service.Config{
		Adapter:    adapter,
		Index:      ix,
		Stager:     stager,
		Region:     "eu-west-1",
		MaxUploads: cfg.maxUploads,
	})
	require.NoError(t, err)

	chain := filter.NewChain(
		filter.NewRequestIDFilter(),
		filter.NewParserFilter(""),
		filter.NewValidationFilter(),
		filter.NewReadOnlyFilter(cfg.readOnly),
	)
	if cfg.accessKey != "" {
		chain.AddFilter(filter.NewAuthenticationFilter(signature.StaticCredentials{cfg.accessKey: cfg.secretKey}))
	}

	srv := NewServer(ServerConfig{Service: svc, Chain: chain})
	t.Cleanup(func() {
		srv.Shutdown()
		ix.Close()
		adapter.Close()
	})

	ts := &testServer{Server: srv, stager: stager, cfg: cfg}
	if !cfg.readOnly {
		rec := ts.do(t, http.MethodPut, "/photos", nil, nil)
		if cfg.client != nil && rec.Code == http.StatusConflict {
			// another gateway on the network created it
			return ts
		}
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return ts
}

// do sends one request through the server.
func (ts *testServer) do(t *testing.T, method, target string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Host = "127.0.0.1:8014"
	for k, v := range header {
		req.Header[k] = v
	}
	if ts.cfg.accessKey != "" {
		signature.SignV4(req, ts.cfg.accessKey, ts.cfg.secretKey, "eu-west-1", time.Now())
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) put(t *testing.T, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := ts.do(t, http.MethodPut, "/photos/"+key, strings.NewReader(body), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

// requireS3Error checks the status and XML error code of a response.
func requireS3Error(t *testing.T, rec *httptest.ResponseRecorder, code s3err.ErrorCode) {
	t.Helper()
	require.Equal(t, code.HTTPStatusCode(), rec.Code, rec.Body.String())
	var resp s3err.Error
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	assert.Equal(t, code.Code(), resp.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func decodeXML(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	decodeXMLStatus(t, rec, http.StatusOK, v)
}

func decodeXMLStatus(t *testing.T, rec *httptest.ResponseRecorder, status int, v any) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}
