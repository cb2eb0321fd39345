// Package main is a probe binary for images without a shell. It GETs the
// actions server readiness endpoint and exits 0 on a 2xx answer, 1
// otherwise.
//
// Usage: healthcheck [url]
//
// The URL defaults to $ACTIONS_HEALTHCHECK_URL, then to
// http://localhost:8080/readyz.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

func main() {
	if err := probe(target(os.Args[1:]), 5*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
}

func target(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if u := os.Getenv("ACTIONS_HEALTHCHECK_URL"); u != "" {
		return u
	}
	return defaultURL
}

func probe(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
