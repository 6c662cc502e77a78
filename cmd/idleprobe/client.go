package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/danpilch/idleprobe/pkg/episode"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/danpilch/idleprobe/pkg/probe"
	"github.com/danpilch/idleprobe/pkg/server"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// drainClient has no overall deadline: a drain is destructive, and a
// deadline hit mid-body would lose the rest of the batch. Only connecting
// and waiting for the response header are bounded.
var drainClient = newDrainClient(10*time.Second, 30*time.Second)

func newDrainClient(dial, header time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dial}).DialContext,
			ResponseHeaderTimeout: header,
		},
	}
}

// openDrain starts one drain session on the daemon and returns the body.
func openDrain(ctx context.Context, base string, format output.Format) (io.ReadCloser, error) {
	u := base + server.DrainPath + "?format=" + url.QueryEscape(string(format))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := drainClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", base, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("drain %s: %s: %s", base, resp.Status, msg)
	}
	return resp.Body, nil
}

// fetchEpisodes drains the daemon and decodes every episode.
func fetchEpisodes(ctx context.Context, base string) ([]episode.Episode, error) {
	body, err := openDrain(ctx, base, output.FormatJSON)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return output.DecodeEpisodes(body)
}

// fetchStats reads the daemon counters.
func fetchStats(ctx context.Context, base string) (probe.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/stats", nil)
	if err != nil {
		return probe.Stats{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return probe.Stats{}, fmt.Errorf("stats %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return probe.Stats{}, fmt.Errorf("stats %s: %s", base, resp.Status)
	}

	var st probe.Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return probe.Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}
