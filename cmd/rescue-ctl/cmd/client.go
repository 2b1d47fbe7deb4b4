package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

func endpoint(path string, query url.Values) string {
	u := strings.TrimRight(agentURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getJSON performs a bounded-time GET and decodes the JSON body into out.
func getJSON(path string, query url.Values, out any) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(endpoint(path, query))
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// postJSON performs an unbounded POST (mutations may take minutes on slow
// flash) and decodes the JSON body into out.
func postJSON(path string, query url.Values, body io.Reader, contentLength int64, out any) error {
	req, err := http.NewRequest(http.MethodPost, endpoint(path, query), body)
	if err != nil {
		return err
	}
	if contentLength > 0 {
		req.ContentLength = contentLength
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}
