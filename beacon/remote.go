package beacon

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Remote calls a beacon service over JSON-RPC 2.0 HTTP. The remote side
// exposes a "mustGetRandomness" method returning the hex-encoded log record.
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a Remote beacon client for the given endpoint URL.
func NewRemote(url string) *Remote {
	return &Remote{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type remoteParams struct {
	Round uint64 `json:"round"`
	Salt  string `json:"salt"` // hex-encoded, length-prefixed
}

type remoteResponse struct {
	Result struct {
		Log string `json:"log"` // hex-encoded log record
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// MustGet requests randomness from the remote beacon. Transport failures,
// beacon-side errors ("round not committed") and malformed responses all
// surface as errors; there is no retry here.
func (r *Remote) MustGet(committedRound uint64, encodedSalt []byte) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "mustGetRandomness",
		"params":  remoteParams{Round: committedRound, Salt: hex.EncodeToString(encodedSalt)},
	})
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Post(r.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("beacon unreachable: %w", err)
	}
	defer resp.Body.Close()

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode beacon response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("beacon error [%d]: %s", out.Error.Code, out.Error.Message)
	}
	record, err := hex.DecodeString(out.Result.Log)
	if err != nil {
		return nil, fmt.Errorf("beacon log not hex: %w", err)
	}
	return record, nil
}
