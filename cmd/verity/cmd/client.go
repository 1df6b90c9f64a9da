package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, host+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

// fail prints the server's error payload when present and exits.
func fail(resp *http.Response) {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		fmt.Fprintf(os.Stderr, "Request failed with status %d: %s\n", resp.StatusCode, payload.Error)
	} else {
		fmt.Fprintf(os.Stderr, "Request failed with status %d\n", resp.StatusCode)
	}
	os.Exit(1)
}

func requireTenant() {
	if tenant == "" {
		fmt.Fprintln(os.Stderr, "--tenant is required")
		os.Exit(1)
	}
}
