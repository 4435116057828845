package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/strixsec/strix/internal/database"
	"github.com/strixsec/strix/pkg/types"
)

// coverageSets returns the current set pointers under the lock, so Cleanup
// swapping them out cannot race an add.
func (k *KnowledgeBase) coverageSets() (urls, requests *database.DiskSet) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.urls, k.requests
}

// AddURL records a URL in the coverage set. Returns true if the URL was
// previously unknown.
func (k *KnowledgeBase) AddURL(ctx context.Context, u *url.URL) (bool, error) {
	if u == nil {
		return false, fmt.Errorf("add_url requires a URL")
	}
	if err := k.Setup(ctx); err != nil {
		return false, err
	}

	k.notifyAddURL(u)

	urls, _ := k.coverageSets()
	return urls.Add(ctx, u.String(), []byte(u.String()))
}

// AddFuzzableRequest records a request shape in the coverage set, first
// registering its URL. Returns true if the shape was previously unknown.
// The two steps are not atomic; a concurrent Cleanup between them can keep
// the URL and drop the request.
func (k *KnowledgeBase) AddFuzzableRequest(ctx context.Context, req *types.FuzzableRequest) (bool, error) {
	if req == nil {
		return false, fmt.Errorf("add_fuzzable_request requires a request")
	}
	if err := k.Setup(ctx); err != nil {
		return false, err
	}

	u, err := req.ParsedURL()
	if err != nil {
		return false, fmt.Errorf("add_fuzzable_request: invalid URL %q: %w", req.SourceURL, err)
	}
	if _, err := k.AddURL(ctx, u); err != nil {
		return false, err
	}

	blob, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("add_fuzzable_request: %w", err)
	}

	_, requests := k.coverageSets()
	return requests.Add(ctx, req.ShapeHash(), blob)
}

// KnownURLs enumerates every URL the scan has seen.
func (k *KnowledgeBase) KnownURLs(ctx context.Context) ([]*url.URL, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}

	urls, _ := k.coverageSets()
	items, err := urls.Items(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*url.URL, 0, len(items))
	for _, item := range items {
		u, err := url.Parse(string(item))
		if err != nil {
			return nil, fmt.Errorf("stored URL %q is invalid: %w", item, err)
		}
		result = append(result, u)
	}
	return result, nil
}

// KnownFuzzableRequests enumerates every request shape the scan has seen.
func (k *KnowledgeBase) KnownFuzzableRequests(ctx context.Context) ([]*types.FuzzableRequest, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}

	_, requests := k.coverageSets()
	items, err := requests.Items(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*types.FuzzableRequest, 0, len(items))
	for _, item := range items {
		var req types.FuzzableRequest
		if err := json.Unmarshal(item, &req); err != nil {
			return nil, fmt.Errorf("stored request is invalid: %w", err)
		}
		result = append(result, &req)
	}
	return result, nil
}
