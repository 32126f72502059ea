// Package postproof builds the post-inclusion proof payload: given a
// signed CAR holding one post record, it assembles the Merkle-path of
// DAG-CBOR nodes proving the post is committed under the repository's
// signed root, and recovers the v parameter of the commit's signature
// against the author's published key candidates.
//
// The builder is a pure function over its inputs; fetching the parent
// post of a reply (when a bot's configuration requires it) is the one
// external effect, and it is expressed as an injected ParentFetcher so
// the builder itself stays testable with in-memory fixtures.
package postproof

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/primal-host/relaybridge/internal/carfile"
	"github.com/primal-host/relaybridge/internal/cbordag"
	"github.com/primal-host/relaybridge/internal/cidkit"
	"github.com/primal-host/relaybridge/internal/eckey"
)

// MinBotNameLength and MaxBotNameLength bound the mentioned handle
// extracted from a post's leading "@token".
const (
	MinBotNameLength = 1
	MaxBotNameLength = 100
)

// Errors returned by Build. The pipeline moves an item whose build
// fails with any of them to its payload_retry status.
var (
	ErrBotNameInvalid      = fmt.Errorf("postproof: bot name invalid")
	ErrProofPathBroken     = fmt.Errorf("postproof: proof path broken")
	ErrCommitRootMismatch  = fmt.Errorf("postproof: commit root mismatch")
	ErrMissingReplyParent  = fmt.Errorf("postproof: bot requires reply but post has no reply.parent")
	ErrParentNotTextBlock  = fmt.Errorf("postproof: reply parent block is not a text block")
	ErrMalformedCommit     = fmt.Errorf("postproof: malformed commit block")
	ErrMalformedTip        = fmt.Errorf("postproof: malformed tip block")
)

// ParentFetcher retrieves the CAR archive containing a reply's parent
// post, keyed by the parent's at:// URI. It is the one I/O boundary of
// the builder; production code backs it with social.Client's HTTP
// fetch.
type ParentFetcher interface {
	FetchParentCAR(ctx context.Context, parentURI string) ([]byte, error)
}

// ReplyPolicy reports whether a given bot requires a post to carry its
// reply-parent content in the payload.
type ReplyPolicy interface {
	RequiresReply(botName string) bool
}

// Payload is the post-inclusion proof payload of the data model.
type Payload struct {
	DID           string
	RKey          string
	ATURI         string
	BotName       string
	BotNameLength int
	Content       [][]byte
	Nodes         [][]byte
	NodeHints     []int
	CommitNode    []byte
	Sig           [65]byte
}

// Input gathers everything Build needs besides the CAR itself.
type Input struct {
	DID, RKey, ATURI string
	// Candidates is the set of compressed secp256k1 public keys the
	// commit's signature is expected to recover to, drawn from the
	// DID document's verificationMethod entries.
	Candidates [][33]byte
}

// Build constructs a post-inclusion proof payload from a parsed CAR.
func Build(ctx context.Context, car *carfile.CAR, in Input, policy ReplyPolicy, fetcher ParentFetcher) (*Payload, error) {
	classified, err := carfile.Classify(car)
	if err != nil {
		return nil, err
	}

	commitNode, sig65, err := extractSignature(classified.Commit, in.Candidates)
	if err != nil {
		return nil, err
	}

	botName, content0, err := validatePost(classified.Text)
	if err != nil {
		return nil, err
	}

	content := [][]byte{content0}
	if policy != nil && policy.RequiresReply(botName) {
		parentBytes, err := includeReplyParent(ctx, classified.Text.Node, fetcher)
		if err != nil {
			return nil, err
		}
		content = append(content, parentBytes)
	}

	nodes, hints, err := walkProofPath(classified.Text, classified.Tip, classified.Tree)
	if err != nil {
		return nil, err
	}

	if err := sealRoot(classified.Commit.Node, nodes, hints); err != nil {
		return nil, err
	}

	return &Payload{
		DID:           in.DID,
		RKey:          in.RKey,
		ATURI:         in.ATURI,
		BotName:       botName,
		BotNameLength: len(botName),
		Content:       content,
		Nodes:         nodes,
		NodeHints:     hints,
		CommitNode:    commitNode,
		Sig:           sig65,
	}, nil
}

// extractSignature strips the commit block's sig field, canonically
// re-encodes the remainder, and recovers the signer's v parameter
// against the candidate key set.
func extractSignature(commit carfile.Block, candidates [][33]byte) ([]byte, [65]byte, error) {
	var sig65 [65]byte

	rawSig, ok := commit.Node["sig"].([]byte)
	if !ok || len(rawSig) != 64 {
		return nil, sig65, fmt.Errorf("%w: sig field missing or not 64 bytes", ErrMalformedCommit)
	}
	if _, ok := commit.Node["data"].(cid.Cid); !ok {
		return nil, sig65, fmt.Errorf("%w: data field missing or not a cid", ErrMalformedCommit)
	}

	stripped := make(map[string]any, len(commit.Node)-1)
	for k, v := range commit.Node {
		if k == "sig" {
			continue
		}
		stripped[k] = v
	}
	commitNode, err := cbordag.Encode(stripped)
	if err != nil {
		return nil, sig65, fmt.Errorf("postproof: re-encode commit: %w", err)
	}

	var r, s [32]byte
	copy(r[:], rawSig[0:32])
	copy(s[:], rawSig[32:64])
	digest := sha256.Sum256(commitNode)

	result, err := eckey.Recover(digest, r, s, candidates)
	if err != nil {
		return nil, sig65, err
	}

	copy(sig65[0:32], r[:])
	copy(sig65[32:64], s[:])
	sig65[64] = result.V

	return commitNode, sig65, nil
}

// validatePost extracts and validates the leading @bot-name token from
// a text block and returns its canonical CBOR encoding.
func validatePost(text carfile.Block) (botName string, content []byte, err error) {
	raw, ok := text.Node["text"].(string)
	if !ok {
		return "", nil, fmt.Errorf("%w: text field missing or not a string", ErrBotNameInvalid)
	}
	if len(raw) == 0 || raw[0] != '@' {
		return "", nil, fmt.Errorf("%w: text does not start with '@'", ErrBotNameInvalid)
	}

	token := raw
	if idx := indexOfWhitespace(raw); idx >= 0 {
		token = raw[:idx]
	}
	botName = token[1:]
	if len(botName) < MinBotNameLength || len(botName) > MaxBotNameLength {
		return "", nil, fmt.Errorf("%w: handle length %d outside [%d,%d]", ErrBotNameInvalid, len(botName), MinBotNameLength, MaxBotNameLength)
	}

	encoded, err := cbordag.Encode(text.Node)
	if err != nil {
		return "", nil, fmt.Errorf("postproof: re-encode text block: %w", err)
	}
	return botName, encoded, nil
}

func indexOfWhitespace(s string) int {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return i
		}
	}
	return -1
}

// includeReplyParent fetches and validates the reply-parent's text
// block, per the bot's declared reply policy.
func includeReplyParent(ctx context.Context, textNode map[string]any, fetcher ParentFetcher) ([]byte, error) {
	reply, ok := textNode["reply"].(map[string]any)
	if !ok {
		return nil, ErrMissingReplyParent
	}
	parent, ok := reply["parent"].(map[string]any)
	if !ok {
		return nil, ErrMissingReplyParent
	}
	parentCID, ok := parent["cid"].(cid.Cid)
	if !ok {
		return nil, ErrMissingReplyParent
	}
	parentURI, ok := parent["uri"].(string)
	if !ok {
		return nil, ErrMissingReplyParent
	}
	if fetcher == nil {
		return nil, fmt.Errorf("postproof: reply parent required but no ParentFetcher configured")
	}

	carBytes, err := fetcher.FetchParentCAR(ctx, parentURI)
	if err != nil {
		return nil, fmt.Errorf("postproof: fetch reply parent: %w", err)
	}
	parentCar, err := carfile.Parse(bytes.NewReader(carBytes))
	if err != nil {
		return nil, fmt.Errorf("postproof: parse reply parent CAR: %w", err)
	}
	block, ok := parentCar.ByCID(parentCID)
	if !ok {
		return nil, fmt.Errorf("postproof: reply parent CAR does not contain %s", parentCID)
	}
	if _, ok := block.Node["text"]; !ok {
		return nil, ErrParentNotTextBlock
	}

	encoded, err := cbordag.Encode(block.Node)
	if err != nil {
		return nil, fmt.Errorf("postproof: re-encode reply parent: %w", err)
	}
	return encoded, nil
}

// walkProofPath locates the text block inside the tip node's entries,
// then walks the reversed tree nodes inward, producing the parallel
// nodes/nodeHints lists described in the data model.
func walkProofPath(text, tip carfile.Block, tree []carfile.Block) (nodes [][]byte, hints []int, err error) {
	target := sha256.Sum256(func() []byte {
		b, _ := cbordag.Encode(text.Node)
		return b
	}())

	entries, ok := tip.Node["e"].([]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: tip node missing 'e' array", ErrMalformedTip)
	}

	tipHint := -1
	for k, entryAny := range entries {
		entry, ok := entryAny.(map[string]any)
		if !ok {
			continue
		}
		v, ok := entry["v"].(cid.Cid)
		if !ok {
			continue
		}
		if cidkit.MatchesDigest(v, target) {
			tipHint = k + 1
			break
		}
	}
	if tipHint < 0 {
		return nil, nil, fmt.Errorf("%w: post content not referenced by tip node", ErrProofPathBroken)
	}

	nodes = append(nodes, tip.Raw)
	hints = append(hints, tipHint)
	target = sha256.Sum256(tip.Raw)

	for _, node := range tree {
		if l, ok := node.Node["l"].(cid.Cid); ok && cidkit.MatchesDigest(l, target) {
			nodes = append(nodes, node.Raw)
			hints = append(hints, 0)
			target = sha256.Sum256(node.Raw)
			continue
		}

		entries, ok := node.Node["e"].([]any)
		if !ok {
			return nil, nil, fmt.Errorf("%w: interior node has neither matching 'l' nor 'e' array", ErrProofPathBroken)
		}
		matched := -1
		for k, entryAny := range entries {
			entry, ok := entryAny.(map[string]any)
			if !ok {
				continue
			}
			t, ok := entry["t"].(cid.Cid)
			if !ok {
				continue
			}
			if cidkit.MatchesDigest(t, target) {
				matched = k + 1
				break
			}
		}
		if matched < 0 {
			return nil, nil, fmt.Errorf("%w: no entry in interior node matches expected child", ErrProofPathBroken)
		}
		nodes = append(nodes, node.Raw)
		hints = append(hints, matched)
		target = sha256.Sum256(node.Raw)
	}

	return nodes, hints, nil
}

// sealRoot verifies the commit's data field equals the SHA-256 of the
// last node on the proof path, the final target walkProofPath reached.
// It does not re-walk the earlier nodes or the hints.
func sealRoot(commitNode map[string]any, nodes [][]byte, hints []int) error {
	if len(nodes) == 0 {
		return fmt.Errorf("%w: empty proof path", ErrProofPathBroken)
	}
	target := sha256.Sum256(nodes[len(nodes)-1])

	data, ok := commitNode["data"].(cid.Cid)
	if !ok {
		return fmt.Errorf("%w: data field missing or not a cid", ErrMalformedCommit)
	}
	if !cidkit.MatchesDigest(data, target) {
		return ErrCommitRootMismatch
	}
	return nil
}
