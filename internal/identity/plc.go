// Package identity resolves an AT Protocol DID into the inputs the
// proof-payload builders need: the DID document (to extract signing
// key candidates) and the full PLC operation audit log (to walk the
// did-history proof). Both are fetched over HTTP with a disk cache, the
// same external-collaborator pattern the original tool used for its
// did_cache/ and plc_cache/ directories.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/primal-host/relaybridge/internal/didkey"
	"github.com/primal-host/relaybridge/internal/didproof"
)

// DIDDocument is the subset of a W3C DID document this system reads.
type DIDDocument struct {
	ID                 string `json:"id"`
	AlsoKnownAs        []string `json:"alsoKnownAs"`
	VerificationMethod []struct {
		ID                 string `json:"id"`
		Type               string `json:"type"`
		PublicKeyMultibase string `json:"publicKeyMultibase"`
	} `json:"verificationMethod"`
	Service []struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		ServiceEndpoint string `json:"serviceEndpoint"`
	} `json:"service"`
}

// CandidateKeys extracts the compressed secp256k1 public keys embedded
// in the document's verificationMethod entries — the candidate set the
// post-proof builder recovers the commit signature against.
func (d DIDDocument) CandidateKeys() ([][33]byte, error) {
	keys := make([][33]byte, 0, len(d.VerificationMethod))
	for _, vm := range d.VerificationMethod {
		if vm.PublicKeyMultibase == "" {
			continue
		}
		key, err := didkey.Decode(didkey.Prefix + vm.PublicKeyMultibase)
		if err != nil {
			return nil, fmt.Errorf("identity: decode verificationMethod %s: %w", vm.ID, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PDSEndpoint returns the AtprotoPersonalDataServer service endpoint.
func (d DIDDocument) PDSEndpoint() (string, bool) {
	for _, svc := range d.Service {
		if svc.Type == "AtprotoPersonalDataServer" {
			return svc.ServiceEndpoint, true
		}
	}
	return "", false
}

// Resolver fetches and caches DID documents and PLC audit logs.
type Resolver struct {
	PLCDirectory string
	CacheDir     string
	Client       *http.Client
}

// NewResolver returns a Resolver backed by plcDirectory (e.g.
// https://plc.directory) and a local cache rooted at cacheDir.
func NewResolver(plcDirectory, cacheDir string) *Resolver {
	return &Resolver{
		PLCDirectory: plcDirectory,
		CacheDir:     cacheDir,
		Client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// ResolveDocument fetches a DID's document, preferring a cached copy.
func (r *Resolver) ResolveDocument(ctx context.Context, did string) (DIDDocument, error) {
	var doc DIDDocument

	cachePath := filepath.Join(r.CacheDir, "did", did+".json")
	if cached, err := os.ReadFile(cachePath); err == nil {
		if err := json.Unmarshal(cached, &doc); err == nil {
			return doc, nil
		}
	}

	body, err := r.get(ctx, r.PLCDirectory+"/"+did)
	if err != nil {
		return doc, fmt.Errorf("identity: fetch did document for %s: %w", did, err)
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return doc, fmt.Errorf("identity: decode did document for %s: %w", did, err)
	}

	if err := writeCache(cachePath, body); err != nil {
		log.Printf("identity: cache did document for %s: %v", did, err)
	}
	return doc, nil
}

// auditLogEntry is the wire shape of one PLC audit-log row.
type auditLogEntry struct {
	CID       string         `json:"cid"`
	Operation map[string]any `json:"operation"`
	Nullified bool           `json:"nullified"`
	CreatedAt string         `json:"createdAt"`
}

// ResolveAuditLog fetches a DID's full chronological PLC operation log.
func (r *Resolver) ResolveAuditLog(ctx context.Context, did string) ([]didproof.Entry, error) {
	cachePath := filepath.Join(r.CacheDir, "plc", did+".json")

	var raw []byte
	if cached, err := os.ReadFile(cachePath); err == nil {
		raw = cached
	} else {
		fetched, err := r.get(ctx, r.PLCDirectory+"/"+did+"/log/audit")
		if err != nil {
			return nil, fmt.Errorf("identity: fetch plc audit log for %s: %w", did, err)
		}
		raw = fetched
		if err := writeCache(cachePath, raw); err != nil {
			log.Printf("identity: cache plc audit log for %s: %v", did, err)
		}
	}

	var entries []auditLogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("identity: decode plc audit log for %s: %w", did, err)
	}

	out := make([]didproof.Entry, len(entries))
	for i, e := range entries {
		out[i] = didproof.Entry{
			CID:       e.CID,
			Operation: e.Operation,
			Nullified: e.Nullified,
			CreatedAt: e.CreatedAt,
		}
	}
	return out, nil
}

func (r *Resolver) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("identity: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("identity: GET %s returned %d: %s", url, resp.StatusCode, string(body))
	}
	return body, nil
}

func writeCache(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}
