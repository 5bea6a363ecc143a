package model

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/assetpulse/assetpulse/internal/config"
)

const defaultPredictTimeout = 10 * time.Second

// Remote invokes an out-of-process model runtime over its HTTP predict
// contract: POST {"features":[...]} returns {"label":"..."} for categorical
// models or {"value":...} for numerical ones.
type Remote struct {
	endpoint string
	kind     Kind
	client   *http.Client
}

// NewRemote builds a Remote from its configuration, constructing the HTTP
// client once with the configured auth and TLS settings.
func NewRemote(mc config.ModelConfig) (*Remote, error) {
	client, err := NewHTTPClient(mc.Auth, mc.TLS, defaultPredictTimeout)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}
	kind := KindCategorical
	if mc.Output == "numerical" {
		kind = KindNumerical
	}
	return &Remote{endpoint: mc.Endpoint, kind: kind, client: client}, nil
}

// predictRequest is the wire request to the runtime.
type predictRequest struct {
	Features []float64 `json:"features"`
}

// predictResponse is the wire response. Exactly one field is expected,
// matching the model's declared output type.
type predictResponse struct {
	Label *string  `json:"label"`
	Value *float64 `json:"value"`
	Error string   `json:"error"`
}

// Predict implements Model. A runtime that responds with the wrong result
// shape for this model's declared output is treated as a malformed result.
func (r *Remote) Predict(ctx context.Context, features []float64) (Prediction, error) {
	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return Prediction{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("runtime returned HTTP %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Prediction{}, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return Prediction{}, fmt.Errorf("runtime error: %s", out.Error)
	}

	switch r.kind {
	case KindCategorical:
		if out.Label == nil || *out.Label == "" {
			return Prediction{}, fmt.Errorf("runtime returned no label for categorical model")
		}
		return Prediction{Kind: KindCategorical, Label: *out.Label}, nil
	default:
		if out.Value == nil {
			return Prediction{}, fmt.Errorf("runtime returned no value for numerical model")
		}
		return Prediction{Kind: KindNumerical, Value: *out.Value}, nil
	}
}

// Kind implements Model.
func (r *Remote) Kind() Kind { return r.kind }

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient constructs an http.Client for a remote runtime's auth and TLS
// settings. The prober reuses it for metrics endpoints on the same runtime.
func NewHTTPClient(auth config.AuthConfig, tlsCfgIn config.TLSConfig, timeout time.Duration) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: tlsCfgIn.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if auth.CAFile != "" {
			caPEM, err := os.ReadFile(auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	transport := &authRoundTripper{
		base: &http.Transport{TLSClientConfig: tlsCfg},
		auth: auth,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
