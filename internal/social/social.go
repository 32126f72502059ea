// Package social is the AT Protocol collaborator this system's queue
// drives: posting a reply once a payload has been reported on-chain,
// and fetching a post record's signed CAR by at:// URI ahead of
// proof construction. It builds on
// github.com/bluesky-social/indigo/xrpc and api/atproto for the
// structured write, and a direct HTTP GET (the same pattern
// internal/identity uses for PLC/DID fetches) for the raw CAR bytes
// com.atproto.sync.getRecord returns.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	atproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"
)

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// Client posts replies and fetches post CARs against a single PDS.
type Client struct {
	xrpc *xrpc.Client
	http *http.Client
	host string
}

// NewClient builds a Client against host (a PDS base URL), authorized
// with a previously-obtained access JWT.
func NewClient(host, accessJWT, did string) *Client {
	return &Client{
		xrpc: &xrpc.Client{
			Host: host,
			Auth: &xrpc.AuthInfo{AccessJwt: accessJWT, Did: did},
		},
		http: &http.Client{Timeout: 15 * time.Second},
		host: host,
	}
}

// PostReply creates an app.bsky.feed.post record replying to
// (parentURI, parentCID), itself a reply within rootURI/rootCID's
// thread, with the given text.
func (c *Client) PostReply(ctx context.Context, rootURI, rootCID, parentURI, parentCID, text string) (string, error) {
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
		"reply": map[string]any{
			"root":   map[string]any{"uri": rootURI, "cid": rootCID},
			"parent": map[string]any{"uri": parentURI, "cid": parentCID},
		},
	}

	out, err := atproto.RepoCreateRecord(ctx, c.xrpc, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       c.xrpc.Auth.Did,
		Record:     &record,
	})
	if err != nil {
		return "", fmt.Errorf("social: create reply record: %w", err)
	}
	return out.Uri, nil
}

// atURIParts splits "at://did/collection/rkey" into its components.
func atURIParts(atURI string) (did, collection, rkey string, err error) {
	trimmed := strings.TrimPrefix(atURI, "at://")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("social: malformed at-uri %q", atURI)
	}
	return parts[0], parts[1], parts[2], nil
}

// FetchRecordCAR fetches the signed CAR for a single record by its
// at:// URI, via com.atproto.sync.getRecord against the client's
// configured host. FetchParentCAR wraps it to satisfy the
// postproof.ParentFetcher interface.
func (c *Client) FetchRecordCAR(ctx context.Context, atURI string) ([]byte, error) {
	did, collection, rkey, err := atURIParts(atURI)
	if err != nil {
		return nil, err
	}

	endpoint := c.host + "/xrpc/com.atproto.sync.getRecord?" + url.Values{
		"did":        {did},
		"collection": {collection},
		"rkey":       {rkey},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("social: build getRecord request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("social: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("social: read getRecord response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("social: getRecord %s returned %d: %s", atURI, resp.StatusCode, string(body))
	}
	return body, nil
}

// FetchParentCAR implements postproof.ParentFetcher.
func (c *Client) FetchParentCAR(ctx context.Context, parentURI string) ([]byte, error) {
	return c.FetchRecordCAR(ctx, parentURI)
}

// Mention is a candidate post found while scanning for bot mentions.
type Mention struct {
	ATURI string
	CID   string
	DID   string
	RKey  string
}

// SearchMentions finds recent posts mentioning handle, via
// app.bsky.feed.searchPosts. Pagination is left to the caller via
// cursor; an empty cursor starts from the most recent posts.
func (c *Client) SearchMentions(ctx context.Context, handle, cursor string) (mentions []Mention, nextCursor string, err error) {
	q := url.Values{"q": {"@" + handle}, "limit": {"25"}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.host + "/xrpc/app.bsky.feed.searchPosts?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("social: build searchPosts request: %w", err)
	}
	if c.xrpc.Auth != nil {
		req.Header.Set("Authorization", "Bearer "+c.xrpc.Auth.AccessJwt)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("social: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var out struct {
		Cursor string `json:"cursor"`
		Posts  []struct {
			URI string `json:"uri"`
			CID string `json:"cid"`
		} `json:"posts"`
	}
	if err := decodeJSON(resp.Body, &out); err != nil {
		return nil, "", fmt.Errorf("social: decode searchPosts response: %w", err)
	}

	for _, p := range out.Posts {
		did, _, rkey, err := atURIParts(p.URI)
		if err != nil {
			continue
		}
		mentions = append(mentions, Mention{ATURI: p.URI, CID: p.CID, DID: did, RKey: rkey})
	}
	return mentions, out.Cursor, nil
}
