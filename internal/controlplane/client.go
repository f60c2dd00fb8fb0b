// Package controlplane implements the thin HTTP surface over the
// platform's state, artifact, and emit endpoints (spec §4.1/§6). It is
// grounded on pkg/client.Client's doReqGated pattern: a single
// concurrency-gated http.Client, with per-endpoint wrapper methods and a
// request builder that applies the endpoint-appropriate auth header.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/ferr"
	"github.com/devrev/airdropkit/internal/xlog"
)

// maxParallelHTTP bounds concurrent outbound requests, mirroring
// pkg/client.go's maxParallelHTTP/reqGate gate.
const maxParallelHTTP = 5

// Client is the control-plane HTTP client.
type Client struct {
	devrevEndpoint string
	httpClient     *http.Client
	log            *xlog.Logger
	reqGate        chan struct{}
}

// New returns a Client talking to devrevEndpoint.
func New(devrevEndpoint string, log *xlog.Logger) *Client {
	if log == nil {
		log = xlog.New("controlplane", nil)
	}
	return &Client{
		devrevEndpoint: devrevEndpoint,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		log:            log,
		reqGate:        make(chan struct{}, maxParallelHTTP),
	}
}

func (c *Client) gate() func() {
	c.reqGate <- struct{}{}
	return func() { <-c.reqGate }
}

// auth is which header style a request needs: spec §6 requires preserving
// a historical split between bearer-token artifact endpoints and
// raw-token callback/state endpoints.
type auth int

const (
	authBearer auth = iota
	authRaw
)

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader, token string, a auth) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	switch a {
	case authBearer:
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		req.Header.Set("Authorization", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doGated(req *http.Request) (*http.Response, error) {
	release := c.gate()
	defer release()
	return c.httpClient.Do(req)
}

// do executes req, applying the retry policy of spec §4.1, and returns the
// final response (caller must close Body) or an error.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	return DoWithRetry(ctx, func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		return c.doGated(req)
	})
}

// GetState fetches the raw state document for a sync unit. A 404 is
// reported as ferr.ErrStateNotFound, distinguished from other failures.
func (c *Client) GetState(ctx context.Context, workerDataURL, token, syncUnit, requestID string) (string, error) {
	u := workerDataURL + ".get"
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, u, bytes.NewReader(nil), token, authRaw)
	})
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ferr.ErrStateNotFound
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("get state: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("get state: decode: %w", err)
	}
	return body.State, nil
}

// PutState persists the raw state document for a sync unit.
func (c *Client) PutState(ctx context.Context, workerDataURL, token, syncUnit, requestID, state string) error {
	q := url.Values{}
	q.Set("sync_unit", syncUnit)
	q.Set("request_id", requestID)
	u := workerDataURL + ".update?" + q.Encode()

	payload, err := json.Marshal(struct {
		State string `json:"state"`
	}{State: state})
	if err != nil {
		return fmt.Errorf("put state: encode: %w", err)
	}

	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, u, bytes.NewReader(payload), token, authRaw)
	})
	if err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("put state: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Emit POSTs the terminal event to the callback URL.
func (c *Client) Emit(ctx context.Context, callbackURL, token string, ev event.TerminalEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("emit: encode: %w", err)
	}
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload), token, authRaw)
	})
	if err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("emit: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ArtifactToUpload is the presigned-upload descriptor returned by the
// platform's artifact upload-url endpoint.
type ArtifactToUpload struct {
	ArtifactID string            `json:"artifact_id"`
	URL        string            `json:"url"`
	FormData   map[string]string `json:"form_data"`
}

// GetArtifactUploadURL obtains a presigned upload descriptor.
func (c *Client) GetArtifactUploadURL(ctx context.Context, token, fileName, fileType string, fileSize int64, requestID string) (ArtifactToUpload, error) {
	q := url.Values{}
	q.Set("file_name", fileName)
	q.Set("file_type", fileType)
	if fileSize > 0 {
		q.Set("file_size", fmt.Sprintf("%d", fileSize))
	}
	q.Set("request_id", requestID)
	u := c.devrevEndpoint + "/internal/airdrop.artifacts.upload-url?" + q.Encode()

	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, u, nil, token, authBearer)
	})
	if err != nil {
		return ArtifactToUpload{}, fmt.Errorf("upload url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return ArtifactToUpload{}, fmt.Errorf("upload url: unexpected status %d", resp.StatusCode)
	}
	var out ArtifactToUpload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ArtifactToUpload{}, fmt.Errorf("upload url: decode: %w", err)
	}
	return out, nil
}

// ConfirmArtifactUpload tells the platform an upload completed.
func (c *Client) ConfirmArtifactUpload(ctx context.Context, token, artifactID, requestID string) error {
	payload, err := json.Marshal(struct {
		RequestID  string `json:"request_id"`
		ArtifactID string `json:"artifact_id"`
	}{RequestID: requestID, ArtifactID: artifactID})
	if err != nil {
		return fmt.Errorf("confirm upload: encode: %w", err)
	}
	u := c.devrevEndpoint + "/internal/airdrop.artifacts.confirm-upload"
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, u, bytes.NewReader(payload), token, authBearer)
	})
	if err != nil {
		return fmt.Errorf("confirm upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("confirm upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// GetArtifactDownloadURL resolves a download URL for a previously
// uploaded artifact (used to read attachment-metadata artifacts).
func (c *Client) GetArtifactDownloadURL(ctx context.Context, token, artifactID, requestID string) (string, error) {
	q := url.Values{}
	q.Set("artifact_id", artifactID)
	q.Set("request_id", requestID)
	u := c.devrevEndpoint + "/internal/airdrop.artifacts.download-url?" + q.Encode()

	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, u, nil, token, authBearer)
	})
	if err != nil {
		return "", fmt.Errorf("download url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("download url: unexpected status %d", resp.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("download url: decode: %w", err)
	}
	return out.URL, nil
}

// InstallInitialDomainMapping installs the IDM blueprint for a snap-in
// version. Idempotent on the platform side per spec §6.
func (c *Client) InstallInitialDomainMapping(ctx context.Context, token string, mapping json.RawMessage) error {
	u := c.devrevEndpoint + "/internal/airdrop.recipe.initial-domain-mappings.install"
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, u, bytes.NewReader(mapping), token, authBearer)
	})
	if err != nil {
		return fmt.Errorf("install idm: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("install idm: unexpected status %d", resp.StatusCode)
	}
	return nil
}
