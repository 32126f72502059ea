package carfile_test

import (
	"bytes"
	"testing"

	"github.com/primal-host/relaybridge/internal/carfile"
	"github.com/primal-host/relaybridge/internal/cbordag"
	"github.com/primal-host/relaybridge/internal/cidkit"
	"github.com/primal-host/relaybridge/internal/testfixture"
)

func TestParseAndClassify(t *testing.T) {
	b := testfixture.NewCarBuilder()
	textCID, err := b.Add(map[string]any{"text": "@mybot hi"})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	if _, err := b.Add(map[string]any{"sig": bytes.Repeat([]byte{1}, 64), "data": textCID}); err != nil {
		t.Fatalf("add commit: %v", err)
	}
	if _, err := b.Add(map[string]any{"e": []any{map[string]any{"v": textCID}}}); err != nil {
		t.Fatalf("add tip: %v", err)
	}

	archive, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	car, err := carfile.Parse(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(car.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(car.Blocks))
	}

	classified, err := carfile.Classify(car)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, ok := classified.Commit.Node["sig"]; !ok {
		t.Fatalf("expected classified commit to carry a sig field")
	}
	if _, ok := classified.Text.Node["text"]; !ok {
		t.Fatalf("expected classified text block to carry a text field")
	}
	if _, ok := classified.Tip.Node["e"]; !ok {
		t.Fatalf("expected classified tip block to carry an e array")
	}
	if len(classified.Tree) != 0 {
		t.Fatalf("expected no interior tree nodes in a 3-block archive, got %d", len(classified.Tree))
	}
}

func TestClassifyRejectsMissingCommit(t *testing.T) {
	b := testfixture.NewCarBuilder()
	textCID, err := b.Add(map[string]any{"text": "@mybot hi"})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	if _, err := b.Add(map[string]any{"e": []any{map[string]any{"v": textCID}}}); err != nil {
		t.Fatalf("add tip: %v", err)
	}
	archive, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	car, err := carfile.Parse(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := carfile.Classify(car); err == nil {
		t.Fatalf("expected an error classifying an archive with no commit block")
	}
}

func TestParseIndexedConfirmsClassification(t *testing.T) {
	b := testfixture.NewCarBuilder()
	textCID, err := b.Add(map[string]any{"text": "@mybot hi"})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	if _, err := b.Add(map[string]any{"sig": bytes.Repeat([]byte{1}, 64), "data": textCID}); err != nil {
		t.Fatalf("add commit: %v", err)
	}
	if _, err := b.Add(map[string]any{"e": []any{map[string]any{"v": textCID}}}); err != nil {
		t.Fatalf("add tip: %v", err)
	}
	archive, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	indexed, err := carfile.ParseIndexed(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("ParseIndexed: %v", err)
	}
	classified, err := indexed.ConfirmClassification()
	if err != nil {
		t.Fatalf("ConfirmClassification: %v", err)
	}
	if _, ok := classified.Text.Node["text"]; !ok {
		t.Fatalf("expected confirmed classification to retain the text block")
	}
	if block, ok := indexed.Resolve(textCID); !ok || block.Node["text"] != "@mybot hi" {
		t.Fatalf("expected Resolve to find the text block by cid")
	}
}

func TestParseIndexedRejectsDanglingReference(t *testing.T) {
	b := testfixture.NewCarBuilder()
	textCID, err := b.Add(map[string]any{"text": "@mybot hi"})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	if _, err := b.Add(map[string]any{"sig": bytes.Repeat([]byte{1}, 64), "data": textCID}); err != nil {
		t.Fatalf("add commit: %v", err)
	}

	// Compute a CID for a block we never add to the archive, so the
	// tip's second entry dangles.
	neverIncluded, err := cbordag.Encode(map[string]any{"text": "never actually written to the archive"})
	if err != nil {
		t.Fatalf("encode filler: %v", err)
	}
	danglingCID, err := cidkit.ComputeCID(neverIncluded)
	if err != nil {
		t.Fatalf("compute filler cid: %v", err)
	}

	if _, err := b.Add(map[string]any{"e": []any{map[string]any{"v": textCID}, map[string]any{"v": danglingCID}}}); err != nil {
		t.Fatalf("add tip: %v", err)
	}

	archive, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	indexed, err := carfile.ParseIndexed(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("ParseIndexed: %v", err)
	}
	if _, err := indexed.ConfirmClassification(); err == nil {
		t.Fatalf("expected ConfirmClassification to reject a tip entry referencing an absent block")
	}
}

func TestByCID(t *testing.T) {
	b := testfixture.NewCarBuilder()
	textCID, err := b.Add(map[string]any{"text": "@mybot hi"})
	if err != nil {
		t.Fatalf("add text: %v", err)
	}
	if _, err := b.Add(map[string]any{"e": []any{map[string]any{"v": textCID}}}); err != nil {
		t.Fatalf("add tip: %v", err)
	}
	archive, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	car, err := carfile.Parse(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	block, ok := car.ByCID(textCID)
	if !ok {
		t.Fatalf("expected to find text block by its cid")
	}
	if block.Node["text"] != "@mybot hi" {
		t.Fatalf("unexpected block content: %v", block.Node)
	}
}
