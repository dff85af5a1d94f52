package provider

import (
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 60 * time.Second

// SharedHTTPClient returns a pooled client for translation backends. A
// non-positive timeout selects the default.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func secondsOrDefault(s int) time.Duration {
	if s <= 0 {
		return defaultTimeout
	}
	return time.Duration(s) * time.Second
}
