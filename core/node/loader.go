package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lavabridge/model"
)

const loadTimeout = 10 * time.Second

// LoadTracks resolves an identifier (URL or search query) against a node's
// track loading API and returns the encoded tracks, ready to hand to Play.
// The node is addressed by its websocket address; the REST endpoint lives
// on the same host and port.
func LoadTracks(ctx context.Context, address, password, identifier string) (*model.LoadedTracks, error) {
	base := strings.Replace(address, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)

	reqURL := fmt.Sprintf("%s/loadtracks?identifier=%s", base, url.QueryEscape(identifier))

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build loadtracks request: %w", err)
	}
	req.Header.Set("Authorization", password)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loadtracks request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: node %s rejected credentials (%d)",
			ErrConnect, address, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loadtracks: node %s returned %d", address, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read loadtracks response: %w", err)
	}

	var loaded model.LoadedTracks
	if err := json.Unmarshal(body, &loaded); err != nil {
		return nil, fmt.Errorf("decode loadtracks response: %w", err)
	}
	return &loaded, nil
}
