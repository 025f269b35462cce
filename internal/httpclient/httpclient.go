package httpclient

import (
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/orasrs/orasrs-core/internal/types"
)

// UserAgent is sent on every upstream request.
const UserAgent = "OraSRS-Core/" + types.Version

// Default returns the client used for upstream fetches. Upstream refreshes
// are low-volume, so the pool is small.
func Default() *http.Client {
	return New(15 * time.Second)
}

func New(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "unexpected status: " + e.Status
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// GetStatusCode returns the status code carried by a StatusError, or 0.
func GetStatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
