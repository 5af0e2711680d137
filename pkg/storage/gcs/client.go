package gcs

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/keeply/keeply-backend/pkg/config"
	"github.com/keeply/keeply-backend/pkg/logger"
)

const (
	storageScope = "https://www.googleapis.com/auth/devstorage.read_write"
	storageHost  = "https://storage.googleapis.com"
	pingTimeout  = 5 * time.Second
	maxSignedTTL = 7 * 24 * time.Hour
)

// ErrSigningUnavailable is returned under metadata credentials, which carry
// no private key to sign URLs with.
var ErrSigningUnavailable = errors.New("gcs: signed urls require service account credentials")

// Client talks to the GCS JSON API for the avatar bucket.
type Client struct {
	httpClient    *http.Client
	defaultBucket string
	signer        *urlSigner
	baseURL       string
	now           func() time.Time
}

type urlSigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewClient authenticates with service-account JSON when configured and
// falls back to the metadata server otherwise.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.AvatarBucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	creds, err := credentialsJSON(gcp)
	if err != nil {
		return nil, err
	}

	client := &Client{defaultBucket: cfg.AvatarBucket, now: time.Now}
	var tokens oauth2.TokenSource
	if len(creds) > 0 {
		jwtCfg, err := google.JWTConfigFromJSON(creds, storageScope)
		if err != nil {
			return nil, fmt.Errorf("gcs: parse service account: %w", err)
		}
		key, err := gojwt.ParseRSAPrivateKeyFromPEM(jwtCfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("gcs: parse service account key: %w", err)
		}
		client.signer = &urlSigner{email: jwtCfg.Email, key: key}
		tokens = jwtCfg.TokenSource(ctx)
	} else {
		tokens = google.ComputeTokenSource("", storageScope)
		if logg != nil {
			logg.Warn(ctx, "gcs.metadata_credentials")
		}
	}
	client.httpClient = &http.Client{
		Timeout:   10 * time.Second,
		Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, tokens)},
	}

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs: health check: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.AvatarBucket), "gcs.connected")
	}
	return client, nil
}

func credentialsJSON(gcp config.GCPConfig) ([]byte, error) {
	if gcp.CredentialsJSON != "" {
		return []byte(gcp.CredentialsJSON), nil
	}
	if gcp.ApplicationCredentials == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(gcp.ApplicationCredentials)
	if err != nil {
		return nil, fmt.Errorf("gcs: read credentials file: %w", err)
	}
	return raw, nil
}

func (c *Client) DefaultBucket() string {
	if c == nil {
		return ""
	}
	return c.defaultBucket
}

func (c *Client) Close() error {
	return nil
}

// Ping lists at most one object, which needs the same permission the avatar
// flows rely on.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.httpClient == nil {
		return errors.New("gcs: client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/storage/v1/b/%s/o?maxResults=1", c.apiBase(), url.PathEscape(c.defaultBucket))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("gcs: bucket check", resp)
	}
	return nil
}
