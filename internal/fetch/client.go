package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Options configures the Fetcher's HTTP behaviour.
type Options struct {
	UserAgent    string
	Timeout      time.Duration // 0 disables the client timeout
	Retries      int           // extra attempts on transient failures
	MaxItems     int           // 0 keeps every item
	MaxBodyBytes int64
	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration
}

const (
	defaultUserAgent      = "fedifeed-relay/1.0"
	defaultMaxBodyBytes   = 10 << 20
	defaultInitialBackoff = 500 * time.Millisecond
)

func (o *Options) withDefaults() Options {
	out := *o
	if out.UserAgent == "" {
		out.UserAgent = defaultUserAgent
	}
	if out.MaxBodyBytes <= 0 {
		out.MaxBodyBytes = defaultMaxBodyBytes
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = defaultInitialBackoff
	}
	if out.Retries < 0 {
		out.Retries = 0
	}
	return out
}

// statusError is a non-2xx response from the feed server.
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return "http status: " + e.Status
}

func transient(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// get downloads address, retrying network errors, 429 and 5xx with
// exponential backoff. Other statuses fail immediately.
func (f *Fetcher) get(ctx context.Context, address string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.opts.Retries)), ctx)

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("new request: %w", err))
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			serr := &statusError{Code: resp.StatusCode, Status: resp.Status}
			if transient(resp.StatusCode) {
				return serr
			}
			return backoff.Permanent(serr)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > f.opts.MaxBodyBytes {
			return backoff.Permanent(fmt.Errorf("feed body exceeds %d bytes", f.opts.MaxBodyBytes))
		}
		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("url", address).Dur("retry_in", wait).Msg("Feed fetch failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}
