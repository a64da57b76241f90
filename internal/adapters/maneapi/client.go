// internal/adapters/maneapi/client.go
package maneapi

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mane_reservas/internal/adapters/observability"
	"mane_reservas/internal/domain"
)

const service = "mane-api"

type Client struct {
	base string
	hc   *http.Client
	rl   *rate.Limiter
}

func New(base string, timeout time.Duration, rps int) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: timeout},
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API ----

func (c *Client) ListUnits(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	return out, c.get(ctx, "units", c.base+"/v1/units/public/options/list", &out)
}

func (c *Client) AreasByUnit(ctx context.Context, unitID string) ([]map[string]any, error) {
	var out []map[string]any
	u := fmt.Sprintf("%s/v1/areas/public/by-unit/%s", c.base, url.PathEscape(unitID))
	return out, c.get(ctx, "areas", u, &out)
}

func (c *Client) Availability(ctx context.Context, unitID, date, hhmm string) ([]map[string]any, error) {
	q := url.Values{"unitId": {unitID}, "date": {date}}
	if hhmm != "" {
		q.Set("time", hhmm)
	}
	var out []map[string]any
	return out, c.get(ctx, "availability", c.base+"/v1/reservations/public/availability?"+q.Encode(), &out)
}

// CreateReservation is not retried: a lost response followed by a retry would
// surface as the active-reservation conflict anyway.
func (c *Client) CreateReservation(ctx context.Context, req domain.CreateReservationRequest) (map[string]any, error) {
	var out map[string]any
	return out, c.post(ctx, "create", c.base+"/v1/reservations/public", req, &out)
}

func (c *Client) ActiveReservation(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	q := url.Values{"id": {id}}
	return out, c.get(ctx, "active", c.base+"/v1/reservations/public/active?"+q.Encode(), &out)
}

func (c *Client) ReservationStatus(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	u := fmt.Sprintf("%s/v1/reservations/%s/status", c.base, url.PathEscape(id))
	return out, c.get(ctx, "status", u, &out)
}

// LookupByCode tries the query form first and falls back to the path form.
func (c *Client) LookupByCode(ctx context.Context, code string) (map[string]any, error) {
	candidates := []string{
		fmt.Sprintf("%s/v1/reservations/lookup?code=%s", c.base, url.QueryEscape(code)), // preferred
		fmt.Sprintf("%s/v1/reservations/code/%s", c.base, url.PathEscape(code)),          // legacy
	}
	var out map[string]any
	return out, c.getFirst(ctx, "lookup", candidates, &out)
}

// QRCodeURL is referenced by clients, never fetched here.
func (c *Client) QRCodeURL(id string) string {
	return fmt.Sprintf("%s/v1/reservations/%s/qrcode", c.base, url.PathEscape(id))
}

// ---- Internals ----

func (c *Client) getFirst(ctx context.Context, endpoint string, urls []string, out any) error {
	var last error
	for _, u := range urls {
		if err := c.get(ctx, endpoint, u, out); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				last = err
				continue // try next pattern
			}
			return err
		}
		return nil
	}
	if last != nil {
		return last
	}
	return errors.New("no candidate URL succeeded")
}

// get performs a GET with client-side rate limiting, retries, and JSON decode into out.
// Retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) get(ctx context.Context, endpoint, url string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		setHeaders(req)

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal(service, endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("mane api %s: %w", endpoint, err)
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal(service, endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			lastErr = readError(resp)
			if wait == 0 {
				wait = backoff(i)
			}
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		default:
			return decode(resp, out)
		}
	}
	return lastErr
}

func (c *Client) post(ctx context.Context, endpoint, url string, body, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal(service, endpoint, 0, time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("mane api %s: %w", endpoint, err)
	}
	observability.ObserveExternal(service, endpoint, resp.StatusCode, time.Since(start))
	return decode(resp, out)
}

func setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("User-Agent", "mane-reservas/1.0")
}

// decode closes the body. 2xx decodes into out (empty bodies allowed), anything
// else becomes an *APIError.
func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}

// readError drains a small error body and closes it.
func readError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	var payload map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") || json.Valid(b) {
		_ = json.Unmarshal(b, &payload)
	}
	raw := ""
	if payload == nil {
		raw = string(b)
	}
	return apiErrorFrom(resp.StatusCode, payload, raw)
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay (200ms, 400ms, 800ms...) with up
// to +50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
