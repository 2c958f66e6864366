// Package httpcache implements the HTTP response cache engine over the
// storage contract.
//
// Entries are keyed by sanitized request URL. Storability and freshness
// lifetime follow shared-cache HTTP semantics evaluated once at put time;
// after that the storage layer's expiration mechanism ages entries out.
package httpcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/cachecontrol"

	"github.com/marmos91/edgesim/pkg/clock"
	"github.com/marmos91/edgesim/pkg/gate"
	"github.com/marmos91/edgesim/pkg/reqctx"
	"github.com/marmos91/edgesim/pkg/storage"
)

// ErrNonGetPut reports an attempt to cache a response to a non-GET request.
var ErrNonGetPut = errors.New("Cannot cache response to non-GET request.")

// entryMeta is the stored record alongside the body bytes.
type entryMeta struct {
	Status   int                 `json:"status"`
	Headers  map[string][]string `json:"headers"`
	StoredAt int64               `json:"storedAt"` // ms since epoch
}

// Options configures a Cache.
type Options struct {
	Clock              clock.Clock
	BlockGlobalAsyncIO bool
}

// MatchOptions tunes Match and Delete.
type MatchOptions struct {
	// IgnoreMethod treats any request method as GET.
	IgnoreMethod bool
}

// Cache is one cache binding over a storage backend.
type Cache struct {
	storage            storage.Storage
	clock              clock.Clock
	blockGlobalAsyncIO bool
}

// New creates a cache engine over a backend.
func New(s storage.Storage, opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	return &Cache{
		storage:            s,
		clock:              opts.Clock,
		blockGlobalAsyncIO: opts.BlockGlobalAsyncIO,
	}
}

func (c *Cache) enter(ctx context.Context) error {
	if c.blockGlobalAsyncIO {
		if err := reqctx.AssertInRequest(ctx); err != nil {
			return err
		}
	}
	// Cache operations count against the external subrequest budget, like
	// outbound fetches.
	if rc := reqctx.From(ctx); rc != nil {
		if err := rc.IncrementExternalSubrequests(1); err != nil {
			return err
		}
	}
	return nil
}

// cacheKey fingerprints a request: the URL without its fragment.
func cacheKey(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	return u.String()
}

// Put stores res as the cached response for req. Responses that shared-cache
// semantics rule unstorable are silently dropped.
func (c *Cache) Put(ctx context.Context, req *http.Request, res *http.Response) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	if req.Method != http.MethodGet {
		return ErrNonGetPut
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	res.Body.Close()

	headers := cloneHeader(res.Header)
	if !stripSetCookie(headers) {
		// Set-Cookie responses are uncacheable without the
		// private=set-cookie carve-out.
		return nil
	}

	// The request's own Cache-Control must not influence storability.
	creq := req.Clone(ctx)
	creq.Header = cloneHeader(req.Header)
	creq.Header.Del("Cache-Control")

	now := c.clock()
	evalHeaders := cloneHeader(headers)
	if evalHeaders.Get("Date") == "" {
		// Freshness math needs a response date; default to now.
		evalHeaders.Set("Date", time.UnixMilli(now).UTC().Format(http.TimeFormat))
	}
	cres := &http.Response{StatusCode: res.StatusCode, Header: evalHeaders}
	// cachecontrol measures expiry from the OS clock; only the lifetime it
	// yields is kept and carried over to the injected clock.
	libNow := time.Now()
	reasons, expires, err := cachecontrol.CachableResponse(creq, cres, cachecontrol.Options{PrivateCache: false})
	if err != nil || len(reasons) > 0 {
		return nil
	}
	if expires.IsZero() {
		return nil
	}
	lifetime := expires.Sub(libNow).Truncate(time.Second)
	if lifetime <= 0 {
		return nil
	}

	meta, err := json.Marshal(entryMeta{
		Status:   res.StatusCode,
		Headers:  headers,
		StoredAt: now,
	})
	if err != nil {
		return err
	}
	stored := storage.Value{
		Value:      body,
		Expiration: (now + lifetime.Milliseconds()) / 1000,
		Metadata:   meta,
	}
	p := gate.Go(func() error {
		return c.storage.Put(ctx, cacheKey(req), stored)
	})
	gate.WaitUntilOnOutputGate(ctx, p, false)
	if err := p.Wait(ctx); err != nil {
		return err
	}
	return gate.WaitForInputOpen(ctx)
}

// Match returns the cached response for req, or nil on a miss. Hits carry
// CF-Cache-Status: HIT and a computed Age header.
func (c *Cache) Match(ctx context.Context, req *http.Request, opts MatchOptions) (*http.Response, error) {
	if err := c.enter(ctx); err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet && !opts.IgnoreMethod {
		return nil, nil
	}
	v, err := c.storage.Get(ctx, cacheKey(req), false)
	if err != nil {
		return nil, err
	}
	if gerr := gate.WaitForInputOpen(ctx); gerr != nil {
		return nil, gerr
	}
	if v == nil {
		return nil, nil
	}
	var meta entryMeta
	if err := json.Unmarshal(v.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}
	header := http.Header(meta.Headers)
	if header == nil {
		header = http.Header{}
	}
	header.Set("CF-Cache-Status", "HIT")
	ageSec := (c.clock() - meta.StoredAt) / 1000
	header.Set("Age", strconv.FormatInt(ageSec, 10))
	return &http.Response{
		StatusCode:    meta.Status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(v.Value)),
		ContentLength: int64(len(v.Value)),
	}, nil
}

// Delete removes the cached response for req, reporting whether one was
// present.
func (c *Cache) Delete(ctx context.Context, req *http.Request, opts MatchOptions) (bool, error) {
	if err := c.enter(ctx); err != nil {
		return false, err
	}
	if req.Method != http.MethodGet && !opts.IgnoreMethod {
		return false, nil
	}
	var deleted bool
	p := gate.Go(func() error {
		var err error
		deleted, err = c.storage.Delete(ctx, cacheKey(req))
		return err
	})
	gate.WaitUntilOnOutputGate(ctx, p, false)
	if err := p.Wait(ctx); err != nil {
		return false, err
	}
	return deleted, gate.WaitForInputOpen(ctx)
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// stripSetCookie applies the Set-Cookie caching rules in place, reporting
// whether the response remains storable: with a "private=set-cookie"
// Cache-Control token the token is dropped and the response kept; without
// it, a response carrying Set-Cookie must not be stored.
func stripSetCookie(headers http.Header) bool {
	cc := headers.Get("Cache-Control")
	if cc != "" {
		var kept []string
		found := false
		for _, token := range strings.Split(cc, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "private=set-cookie") {
				found = true
				continue
			}
			kept = append(kept, strings.TrimSpace(token))
		}
		if found {
			headers.Del("Set-Cookie")
			if len(kept) > 0 {
				headers.Set("Cache-Control", strings.Join(kept, ", "))
			} else {
				headers.Del("Cache-Control")
			}
			return true
		}
	}
	if headers.Get("Set-Cookie") != "" {
		return false
	}
	return true
}
