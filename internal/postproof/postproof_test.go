package postproof_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"testing"

	"github.com/primal-host/relaybridge/internal/carfile"
	"github.com/primal-host/relaybridge/internal/cbordag"
	"github.com/primal-host/relaybridge/internal/cidkit"
	"github.com/primal-host/relaybridge/internal/postproof"
	"github.com/primal-host/relaybridge/internal/testfixture"
)

// buildFlatArchive constructs a minimal CAR archive with no interior
// tree nodes: text -> tip (tip's "e" entry points at text, commit's
// "data" points directly at the tip node).
func buildFlatArchive(t *testing.T, key testfixture.Key, text map[string]any) ([]byte, [][33]byte) {
	t.Helper()

	b := testfixture.NewCarBuilder()
	textCID, err := b.Add(text)
	if err != nil {
		t.Fatalf("add text: %v", err)
	}

	tipNode := map[string]any{
		"e": []any{
			map[string]any{"v": textCID},
		},
	}
	tipRaw, err := cbordag.Encode(tipNode)
	if err != nil {
		t.Fatalf("encode tip: %v", err)
	}
	dataCID, err := cidkit.ComputeCID(tipRaw)
	if err != nil {
		t.Fatalf("compute tip cid: %v", err)
	}

	commitWithoutSig := map[string]any{"data": dataCID}
	signable, err := cbordag.Encode(commitWithoutSig)
	if err != nil {
		t.Fatalf("encode commit without sig: %v", err)
	}
	digest := sha256.Sum256(signable)
	_, _, sig65, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	commit := map[string]any{"data": dataCID, "sig": append([]byte{}, sig65[0:64]...)}
	if _, err := b.Add(commit); err != nil {
		t.Fatalf("add commit: %v", err)
	}
	if _, err := b.Add(tipNode); err != nil {
		t.Fatalf("add tip: %v", err)
	}

	archive, err := b.Bytes()
	if err != nil {
		t.Fatalf("serialize archive: %v", err)
	}
	return archive, [][33]byte{key.Compressed}
}

func TestBuildFlatArchiveProducesSealedPayload(t *testing.T) {
	key, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	archive, candidates := buildFlatArchive(t, key, map[string]any{"text": "@mybot hello world"})

	car, err := carfile.Parse(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	payload, err := postproof.Build(context.Background(), car, postproof.Input{
		DID: "did:plc:abc123", RKey: "3kqw", ATURI: "at://did:plc:abc123/app.bsky.feed.post/3kqw",
		Candidates: candidates,
	}, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if payload.BotName != "mybot" {
		t.Fatalf("expected bot name 'mybot', got %q", payload.BotName)
	}
	if payload.BotNameLength != len("mybot") {
		t.Fatalf("bot name length mismatch")
	}
	if len(payload.Nodes) != 1 || len(payload.NodeHints) != 1 {
		t.Fatalf("expected a single-hop proof path for a flat archive, got %d nodes", len(payload.Nodes))
	}
	if payload.Sig[64] != 27 && payload.Sig[64] != 28 {
		t.Fatalf("expected recovery byte in {27,28}, got %d", payload.Sig[64])
	}
}

func TestBuildRejectsBotNameTooShort(t *testing.T) {
	key, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	archive, candidates := buildFlatArchive(t, key, map[string]any{"text": "@ is not a valid handle"})

	car, err := carfile.Parse(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = postproof.Build(context.Background(), car, postproof.Input{
		DID: "did:plc:abc123", RKey: "3kqw", ATURI: "at://did:plc:abc123/app.bsky.feed.post/3kqw",
		Candidates: candidates,
	}, nil, nil)
	if err == nil {
		t.Fatalf("expected ErrBotNameInvalid for an empty handle")
	}
}

func TestBuildRejectsUnrecoverableSignature(t *testing.T) {
	key, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	other, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	archive, _ := buildFlatArchive(t, key, map[string]any{"text": "@mybot hello"})

	car, err := carfile.Parse(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, err = postproof.Build(context.Background(), car, postproof.Input{
		DID: "did:plc:abc123", RKey: "3kqw", ATURI: "at://did:plc:abc123/app.bsky.feed.post/3kqw",
		Candidates: [][33]byte{other.Compressed},
	}, nil, nil)
	if err == nil {
		t.Fatalf("expected recovery failure against a candidate set missing the signer")
	}
}

func TestBuildWithInteriorTreeNode(t *testing.T) {
	key, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	b := testfixture.NewCarBuilder()
	textNode := map[string]any{"text": "@mybot nested"}
	textCID, err := b.Add(textNode)
	if err != nil {
		t.Fatalf("add text: %v", err)
	}

	tipNode := map[string]any{"e": []any{map[string]any{"v": textCID}}}
	tipRaw, err := cbordag.Encode(tipNode)
	if err != nil {
		t.Fatalf("encode tip: %v", err)
	}
	tipCID, err := cidkit.ComputeCID(tipRaw)
	if err != nil {
		t.Fatalf("compute tip cid: %v", err)
	}

	treeNode := map[string]any{"l": tipCID}
	treeRaw, err := cbordag.Encode(treeNode)
	if err != nil {
		t.Fatalf("encode tree node: %v", err)
	}
	treeCID, err := cidkit.ComputeCID(treeRaw)
	if err != nil {
		t.Fatalf("compute tree cid: %v", err)
	}

	commitWithoutSig := map[string]any{"data": treeCID}
	signable, err := cbordag.Encode(commitWithoutSig)
	if err != nil {
		t.Fatalf("encode commit without sig: %v", err)
	}
	digest := sha256.Sum256(signable)
	_, _, sig65, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	commit := map[string]any{"data": treeCID, "sig": append([]byte{}, sig65[0:64]...)}

	// Archival order: text, commit, interior tree node, tip (tip last).
	if _, err := b.Add(commit); err != nil {
		t.Fatalf("add commit: %v", err)
	}
	if _, err := b.Add(treeNode); err != nil {
		t.Fatalf("add tree node: %v", err)
	}
	if _, err := b.Add(tipNode); err != nil {
		t.Fatalf("add tip: %v", err)
	}

	archive, err := b.Bytes()
	if err != nil {
		t.Fatalf("serialize archive: %v", err)
	}

	car, err := carfile.Parse(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	payload, err := postproof.Build(context.Background(), car, postproof.Input{
		DID: "did:plc:xyz", RKey: "3kqx", ATURI: "at://did:plc:xyz/app.bsky.feed.post/3kqx",
		Candidates: [][33]byte{key.Compressed},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(payload.Nodes) != 2 {
		t.Fatalf("expected a two-hop proof path (tip, tree node), got %d", len(payload.Nodes))
	}
}
