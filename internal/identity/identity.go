// Package identity validates a registering pet against the external pet
// service and returns the owner, name and registration time it vouches for.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pet-battle-backend/internal/engine"
)

type Fetcher interface {
	Fetch(ctx context.Context, petID engine.ID) (engine.Identity, error)
}

type FetcherFunc func(ctx context.Context, petID engine.ID) (engine.Identity, error)

func (f FetcherFunc) Fetch(ctx context.Context, petID engine.ID) (engine.Identity, error) {
	return f(ctx, petID)
}

// infoReply is the reply shape of GET /pets/{id}.
type infoReply struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	DateOfBirth int64  `json:"date_of_birth"`
}

type Client struct {
	BaseURL string
	Client  *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Fetch asks the pet service about petID. Every failure, including a reply
// that does not carry an owner and a name, is reported as
// engine.ErrIdentityUnavailable.
func (c *Client) Fetch(ctx context.Context, petID engine.ID) (engine.Identity, error) {
	endpoint := fmt.Sprintf("%s/pets/%s", c.BaseURL, url.PathEscape(string(petID)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return engine.Identity{}, fmt.Errorf("%w: build request: %v", engine.ErrIdentityUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return engine.Identity{}, fmt.Errorf("%w: %v", engine.ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return engine.Identity{}, fmt.Errorf("%w: read reply: %v", engine.ErrIdentityUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("pet service rejected lookup",
			zap.String("pet", string(petID)),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return engine.Identity{}, fmt.Errorf("%w: pet service returned %d", engine.ErrIdentityUnavailable, resp.StatusCode)
	}

	var out infoReply
	if err := json.Unmarshal(body, &out); err != nil {
		return engine.Identity{}, fmt.Errorf("%w: malformed reply: %v", engine.ErrIdentityUnavailable, err)
	}
	if out.Owner == "" || out.Name == "" {
		return engine.Identity{}, fmt.Errorf("%w: reply for %q lacks owner or name", engine.ErrIdentityUnavailable, petID)
	}

	return engine.Identity{
		Owner:        engine.ID(out.Owner),
		Name:         out.Name,
		RegisteredAt: time.Unix(out.DateOfBirth, 0).UTC(),
	}, nil
}
