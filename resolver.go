package provlog

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ipfs/go-cid"
)

// Resolver fetches entries by CID. The DAG of parent and child logs is
// realised lazily through one of these; nothing holds in-memory
// pointers across logs.
type Resolver interface {
	Resolve(ctx context.Context, c cid.Cid) (*Entry, error)
}

// StoreResolver resolves entries from a local EntryStore.
type StoreResolver struct {
	Store EntryStore
}

// Resolve fetches and decodes the entry stored under c.
func (r *StoreResolver) Resolve(_ context.Context, c cid.Cid) (*Entry, error) {
	return GetEntry(r.Store, c)
}

// HTTPResolver resolves entries from a remote log server.
type HTTPResolver struct {
	BaseURL string       // e.g. "https://plog.example.com"
	Client  *http.Client // customize timeouts, TLS, etc.
}

// NewHTTPResolver returns a resolver against baseURL with a default
// client.
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{BaseURL: baseURL, Client: &http.Client{}}
}

// Resolve fetches the canonical entry bytes over HTTP and decodes them,
// refusing bytes whose CID does not match.
func (r *HTTPResolver) Resolve(ctx context.Context, c cid.Cid) (*Entry, error) {
	url := r.BaseURL + "/api/v1/entries/" + c.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build entry request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch entry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch entry %s: status %d", c, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read entry body: %w", err)
	}
	e, rest, err := DecodeEntry(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in fetched entry", ErrMalformedEntry)
	}
	got, err := e.CID()
	if err != nil {
		return nil, err
	}
	if !got.Equals(c) {
		return nil, fmt.Errorf("%w: fetched entry hashes to %s, want %s", ErrBrokenChain, got, c)
	}
	return e, nil
}

// ResolveChain walks prev links back from head and returns the entries
// foot to head.
func ResolveChain(ctx context.Context, r Resolver, head cid.Cid) ([]*Entry, error) {
	var rev []*Entry
	c := head
	for c.Defined() {
		e, err := r.Resolve(ctx, c)
		if err != nil {
			return nil, err
		}
		rev = append(rev, e)
		if e.Seqno == 0 {
			break
		}
		c = e.Prev
	}
	out := make([]*Entry, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out, nil
}

// StoreLoader adapts an EntryStore into a ScriptLoader for
// content-addressed scripts.
func StoreLoader(s EntryStore) ScriptLoader {
	return func(c cid.Cid) ([]byte, error) {
		data, found, err := s.Get(c)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("script %s not stored", c)
		}
		return data, nil
	}
}
