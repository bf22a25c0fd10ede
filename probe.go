package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Prober judges whether a running instance still behaves like the baseline.
// The judgment is black-box: only externally observable response codes count,
// never internal side effects.
type Prober interface {
	Probe(ctx context.Context) error
}

// probeCheck is one request/expectation pair in the probe sequence.
type probeCheck struct {
	name string
	run  func(ctx context.Context, client *http.Client, baseURL string) error
}

// HTTPProbe executes an ordered sequence of HTTP checks against the published
// service endpoint. The first failing check aborts the sequence.
type HTTPProbe struct {
	client  *http.Client
	baseURL string
	checks  []probeCheck
}

// NewHTTPProbe builds the probe from the run configuration. The baseline
// sequence fetches the front page and posts through the form endpoint; the
// JSON write endpoint is added when the target exposes it.
func NewHTTPProbe(cfg *Config) *HTTPProbe {
	checks := []probeCheck{
		{name: "front-page", run: checkFrontPage},
		{name: "form-write", run: checkFormWrite(cfg.Probe.Payload)},
	}
	if cfg.Probe.APIWrite {
		checks = append(checks, probeCheck{name: "api-write", run: checkAPIWrite(cfg.Probe.Payload)})
	}

	return &HTTPProbe{
		client:  &http.Client{Timeout: cfg.Probe.Timeout.Std()},
		baseURL: cfg.ProbeBaseURL(),
		checks:  checks,
	}
}

// Probe runs every check in order against the instance.
func (p *HTTPProbe) Probe(ctx context.Context) error {
	logger := Logger(ctx).With("component", "probe")

	for _, check := range p.checks {
		if err := check.run(ctx, p.client, p.baseURL); err != nil {
			return WrapProbeError(check.name, err).
				WithContext("base_url", p.baseURL)
		}
		logger.Debug("Check passed", "check", check.name)
	}

	return nil
}

// checkFrontPage fetches the service root and requires a 200.
func checkFrontPage(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// checkFormWrite posts a representative payload through the form endpoint,
// which appends to the service's persisted log and broadcasts a notification.
// Only the response status is judged.
func checkFormWrite(payload string) func(ctx context.Context, client *http.Client, baseURL string) error {
	return func(ctx context.Context, client *http.Client, baseURL string) error {
		form := url.Values{"content": {payload}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/write", strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer drainAndClose(resp)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}

// checkAPIWrite posts the payload through the JSON write endpoint.
func checkAPIWrite(payload string) func(ctx context.Context, client *http.Client, baseURL string) error {
	return func(ctx context.Context, client *http.Client, baseURL string) error {
		body, err := json.Marshal(map[string]string{"text": payload})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/api/write", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer drainAndClose(resp)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}

// drainAndClose consumes the response body so the client connection can be
// reused across checks.
func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
