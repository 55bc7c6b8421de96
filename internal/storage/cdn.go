package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/godo"

	"github.com/oralhistory/backend/internal/logging"
)

// CDNPurger invalidates cached copies of objects on the Spaces CDN.
type CDNPurger struct {
	endpointID string
	timeout    time.Duration
	client     *godo.Client
}

// NewCDNPurger returns a purger for the CDN endpoint. An empty endpoint id
// yields a purger whose Purge is a no-op.
func NewCDNPurger(endpointID, token string, timeout time.Duration) *CDNPurger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &CDNPurger{endpointID: endpointID, timeout: timeout}
	if endpointID != "" {
		p.client = godo.NewFromToken(token)
	}
	return p
}

// Enabled reports whether purges are sent.
func (p *CDNPurger) Enabled() bool {
	return p != nil && p.endpointID != "" && p.client != nil
}

// Purge asks the CDN to drop the given object keys.
func (p *CDNPurger) Purge(ctx context.Context, keys ...string) error {
	if !p.Enabled() || len(keys) == 0 {
		return nil
	}

	files := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = KeyFromURL(key); key != "" {
			files = append(files, key)
		}
	}
	if len(files) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.client.CDNs.FlushCache(ctx, p.endpointID, &godo.CDNFlushCacheRequest{Files: files}); err != nil {
		return fmt.Errorf("purge cdn: %w", err)
	}

	logging.FromContext(ctx).Info("cdn purged", "files", files)
	return nil
}
