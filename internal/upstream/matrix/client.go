package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// doRequest performs a request against the homeserver and returns the
// response body. Non-2xx responses are returned as *Error when the body
// carries the standard error shape.
func (u *Upstream) doRequest(ctx context.Context, method, path, token string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := u.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var matrixErr Error
	if jsonErr := json.Unmarshal(body, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("unexpected %d response from %s %s", resp.StatusCode, method, path)
	}
	matrixErr.StatusCode = resp.StatusCode
	return nil, &matrixErr
}

// authed performs an authenticated request. The held token is dropped when
// the homeserver rejects it so the next Connect logs in again.
func (u *Upstream) authed(ctx context.Context, method, path string, requestBody any, query url.Values, out any) error {
	token := u.token()
	if token == "" {
		return fmt.Errorf("not connected")
	}

	body, err := u.doRequest(ctx, method, path, token, requestBody, query)
	if err != nil {
		if IsError(err, ErrCodeUnknownToken) {
			u.logger.Warn("access token rejected, will log in again")
			u.dropToken(token)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
