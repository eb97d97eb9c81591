package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	gateway "github.com/eugener/predictgw/internal"
)

// maxAttempts caps the attempts a single HTTP request may ask for.
const maxAttempts = 10

// callOptions builds per-call options from the query string:
// cache=true enables the cache, ttl=60s overrides its TTL, retry=true applies
// the configured backoff and attempts=N does the same with N attempts.
func callOptions[T any](r *http.Request, defaults gateway.BackoffSpec) (gateway.CallOptions[T], error) {
	var opts gateway.CallOptions[T]
	q := r.URL.Query()

	if v := q.Get("cache"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("cache: want true or false")
		}
		opts.UseCache = b
	}
	if v := q.Get("ttl"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return opts, errors.New("ttl: want a positive duration such as 60s")
		}
		opts.CacheTTL = d
	}

	retry := false
	if v := q.Get("retry"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("retry: want true or false")
		}
		retry = b
	}
	spec := defaults
	if v := q.Get("attempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAttempts {
			return opts, errors.New("attempts: want an integer between 1 and " + strconv.Itoa(maxAttempts))
		}
		spec.MaxAttempts = n
		retry = true
	}
	if retry {
		opts.Retry = &spec
	}
	return opts, nil
}
