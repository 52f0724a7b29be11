package tap

import (
	"context"
	"encoding/json"
	"net/http"

	goversion "github.com/hashicorp/go-version"

	"github.com/virgo-archive/tapir/pkg/errors"
	"github.com/virgo-archive/tapir/pkg/transport"
)

// minAsyncVersion is the protocol version that introduced the async job
// endpoint.
const minAsyncVersion = ">= 1.0"

// Capabilities is the service self-description served at /capabilities.
type Capabilities struct {
	Version   string   `json:"version"`
	Languages []string `json:"languages"`
}

// Capabilities fetches and caches the service capability document.
func (c *Client) Capabilities(ctx context.Context) (*Capabilities, error) {
	c.capMu.Lock()
	defer c.capMu.Unlock()
	if c.caps != nil {
		return c.caps, nil
	}

	resp, err := c.http.Get(ctx, c.baseURL+"/capabilities", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch capabilities")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, transport.ClassifyStatus(resp.StatusCode)
	}

	var caps Capabilities
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, errors.Wrap(err, "failed to parse capabilities")
	}
	c.caps = &caps
	return c.caps, nil
}

// ensureAsync gates async submissions on the advertised protocol version.
// Services that publish no capability document are given the benefit of the
// doubt; the submission itself will fail if async is genuinely missing.
func (c *Client) ensureAsync(ctx context.Context) error {
	caps, err := c.Capabilities(ctx)
	if err != nil {
		return nil
	}
	if caps.Version == "" {
		return nil
	}
	v, err := goversion.NewVersion(caps.Version)
	if err != nil {
		return errors.Wrapf(errors.ErrServiceCapability, "unparseable service version %q", caps.Version)
	}
	constraint, err := goversion.NewConstraint(minAsyncVersion)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return errors.Wrapf(errors.ErrServiceCapability,
			"service speaks protocol %s, async requires %s", caps.Version, minAsyncVersion)
	}
	return nil
}
