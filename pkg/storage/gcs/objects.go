package gcs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SignedURL returns a V2 signed PUT URL. The uploader must send the same
// Content-Type header that was signed.
func (c *Client) SignedURL(bucket, object, contentType string, expires time.Duration) (string, error) {
	if strings.TrimSpace(contentType) == "" {
		return "", errors.New("gcs: content type is required")
	}
	return c.signedURL(http.MethodPut, bucket, object, contentType, expires)
}

// SignedReadURL returns a V2 signed GET URL.
func (c *Client) SignedReadURL(bucket, object string, expires time.Duration) (string, error) {
	return c.signedURL(http.MethodGet, bucket, object, "", expires)
}

func (c *Client) signedURL(method, bucket, object, contentType string, expires time.Duration) (string, error) {
	if c == nil || c.signer == nil {
		return "", ErrSigningUnavailable
	}
	bucket = c.bucketOrDefault(bucket)
	if bucket == "" {
		return "", errors.New("gcs: bucket is required")
	}
	if object == "" {
		return "", errors.New("gcs: object is required")
	}
	if expires <= 0 || expires > maxSignedTTL {
		return "", fmt.Errorf("gcs: expiry %s out of range", expires)
	}

	expiry := strconv.FormatInt(c.clock().Add(expires).Unix(), 10)
	resource := "/" + bucket + "/" + escapeObject(object)
	payload := strings.Join([]string{method, "", contentType, expiry, resource}, "\n")

	hash := sha256.Sum256([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.signer.key, crypto.SHA256, hash[:])
	if err != nil {
		return "", fmt.Errorf("gcs: sign url: %w", err)
	}

	query := url.Values{}
	query.Set("GoogleAccessId", c.signer.email)
	query.Set("Expires", expiry)
	query.Set("Signature", base64.StdEncoding.EncodeToString(sig))
	return storageHost + resource + "?" + query.Encode(), nil
}

// ObjectExists reports whether the object is present, using the JSON API
// metadata endpoint.
func (c *Client) ObjectExists(ctx context.Context, bucket, object string) (bool, error) {
	resp, err := c.objectRequest(ctx, http.MethodGet, bucket, object)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError("gcs object lookup failed", resp)
}

// DeleteObject removes the object. A missing object is not an error.
func (c *Client) DeleteObject(ctx context.Context, bucket, object string) error {
	resp, err := c.objectRequest(ctx, http.MethodDelete, bucket, object)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusError("gcs object delete failed", resp)
}

func (c *Client) objectRequest(ctx context.Context, method, bucket, object string) (*http.Response, error) {
	if c == nil || c.httpClient == nil {
		return nil, errors.New("gcs: client not initialized")
	}
	bucket = c.bucketOrDefault(bucket)
	if bucket == "" || object == "" {
		return nil, errors.New("gcs: bucket and object are required")
	}
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", c.apiBase(), url.PathEscape(bucket), url.PathEscape(object))
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) bucketOrDefault(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return c.defaultBucket
}

func (c *Client) apiBase() string {
	if c.baseURL != "" {
		return strings.TrimRight(c.baseURL, "/")
	}
	return storageHost
}

func (c *Client) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func escapeObject(object string) string {
	parts := strings.Split(object, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func statusError(prefix string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if len(b) > 0 {
		return fmt.Errorf("%s: %s: %s", prefix, resp.Status, strings.TrimSpace(string(b)))
	}
	return fmt.Errorf("%s: %s", prefix, resp.Status)
}
