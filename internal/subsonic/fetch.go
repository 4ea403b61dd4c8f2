package subsonic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Fetch downloads the media at uri into dest and returns the byte count.
// The uri already carries its own auth parameters, stamped at resolution.
func (c *Client) Fetch(ctx context.Context, uri, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	return n, nil
}
