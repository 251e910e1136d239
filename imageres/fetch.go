package imageres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable")

// download performs a GET with a per-attempt timeout, retrying network
// errors and 5xx responses.
func (r *Resolver) download(ctx context.Context, rawURL string) ([]byte, error) {
	var last error
	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		data, err := r.get(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		last = err
		if !errors.Is(err, errRetryable) {
			break
		}
	}
	return nil, last
}

func (r *Resolver) get(ctx context.Context, rawURL string) ([]byte, error) {
	attempt, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(attempt, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt.Err() != nil {
			// a slow source is the source's fault, not the caller's
			return nil, fmt.Errorf("%w: no response within %s", errRetryable, r.opts.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	maxBytes := r.opts.Limits.MaxImageBytes
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("response of %d bytes exceeds %d", resp.ContentLength, maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBytes)
	}
	return data, nil
}
