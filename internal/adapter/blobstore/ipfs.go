package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IPFSStore publishes through the Kubo RPC API.
type IPFSStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewIPFSStore creates a store for the Kubo node at apiURL (e.g. http://localhost:5001).
func NewIPFSStore(apiURL string, timeout time.Duration) *IPFSStore {
	return &IPFSStore{
		baseURL:    strings.TrimSuffix(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// rpcError is the body Kubo returns for failed RPC calls.
type rpcError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

// Messages Kubo uses when a cat argument does not resolve to an object.
var notFoundMessages = []string{
	"invalid path",
	"invalid cid",
	"no link named",
	"not found",
	"failed to resolve",
	"selected encoding not supported",
}

// Put adds and pins payload, returning its CID.
func (s *IPFSStore) Put(ctx context.Context, payload []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "session.json")
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v0/add?pin=true", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("IPFS add failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IPFS API error [%d]: %s", resp.StatusCode, rpcMessage(respBody))
	}

	// add may stream several JSON objects; the first names the file.
	var result addResponse
	if err := json.NewDecoder(bytes.NewReader(respBody)).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Hash == "" {
		return "", fmt.Errorf("IPFS add returned no CID")
	}
	return result.Hash, nil
}

// Get fetches the bytes stored under cid.
func (s *IPFSStore) Get(ctx context.Context, cid string) ([]byte, error) {
	if cid == "" {
		return nil, fmt.Errorf("%w: empty address", ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v0/cat?arg="+url.QueryEscape(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("IPFS cat failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cid)
	}
	if resp.StatusCode != http.StatusOK {
		msg := rpcMessage(respBody)
		if isNotFoundMessage(msg) {
			return nil, fmt.Errorf("%w: %s: %s", ErrNotFound, cid, msg)
		}
		return nil, fmt.Errorf("IPFS API error [%d]: %s", resp.StatusCode, msg)
	}
	return respBody, nil
}

func rpcMessage(body []byte) string {
	var e rpcError
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

func isNotFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range notFoundMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
