// Package carfile parses a CARv1 archive holding a single post record
// (or a single DID-repo commit lineage) and classifies its blocks by
// content shape, per the data model the post-inclusion proof builder
// consumes. It builds on github.com/ipld/go-car, the same CAR library
// used elsewhere in this codebase (internal/testfixture) to build
// archives on the write side.
package carfile

import (
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"

	"github.com/primal-host/relaybridge/internal/cbordag"
)

// Block is one decoded DAG-CBOR node from a CAR archive, in the order
// it appeared in the archive.
type Block struct {
	CID  cid.Cid
	Raw  []byte
	Node map[string]any
}

// CAR is an ordered collection of decoded blocks from a single archive.
type CAR struct {
	Roots  []cid.Cid
	Blocks []Block
}

// ByCID returns the block with the given CID, if present.
func (c *CAR) ByCID(target cid.Cid) (Block, bool) {
	for _, b := range c.Blocks {
		if b.CID.Equals(target) {
			return b, true
		}
	}
	return Block{}, false
}

// Parse reads a CARv1 archive and decodes every block as a DAG-CBOR
// map. Blocks whose top-level shape is not a map (unexpected for the
// post/commit/tree nodes this system deals with) are rejected.
func Parse(r io.Reader) (*CAR, error) {
	cr, err := car.NewCarReader(r)
	if err != nil {
		return nil, fmt.Errorf("carfile: read header: %w", err)
	}

	out := &CAR{Roots: cr.Header.Roots}
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("carfile: read block: %w", err)
		}

		decoded, err := cbordag.Decode(blk.RawData())
		if err != nil {
			return nil, fmt.Errorf("carfile: decode block %s: %w", blk.Cid(), err)
		}
		node, ok := decoded.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("carfile: block %s is not a CBOR map", blk.Cid())
		}

		out.Blocks = append(out.Blocks, Block{
			CID:  blk.Cid(),
			Raw:  blk.RawData(),
			Node: node,
		})
	}
	return out, nil
}

// IndexedCAR is a CID-indexed view over a parsed CAR archive, letting a
// caller resolve any block by the CIDs its nodes reference instead of
// by archival position.
type IndexedCAR struct {
	car   *CAR
	byCID map[cid.Cid]Block
}

// ParseIndexed parses a CARv1 archive like Parse, additionally building
// a CID-to-block index. It does not replace Classify's positional walk
// (the tip is still identified by archival position, per the
// generatePayload convention); it lets a caller recursively confirm
// that a classification is structurally sound, via ConfirmClassification.
func ParseIndexed(r io.Reader) (*IndexedCAR, error) {
	c, err := Parse(r)
	if err != nil {
		return nil, err
	}
	idx := &IndexedCAR{car: c, byCID: make(map[cid.Cid]Block, len(c.Blocks))}
	for _, b := range c.Blocks {
		idx.byCID[b.CID] = b
	}
	return idx, nil
}

// CAR returns the underlying parsed archive.
func (ix *IndexedCAR) CAR() *CAR { return ix.car }

// Resolve looks up a block by CID within the indexed archive.
func (ix *IndexedCAR) Resolve(target cid.Cid) (Block, bool) {
	b, ok := ix.byCID[target]
	return b, ok
}

// ConfirmClassification re-derives a Classified value from the
// archive's blocks and additionally confirms that every "e[].v" link in
// the tip and every "l" and "e[].t" link in an interior tree node
// resolves to another block present in the same archive. The tip's
// "l"/"e[].t" links and interior nodes' "e[].v" links are not checked.
// Classify alone accepts a tree node's "l"/"e[].t" field
// as a well-formed CID without checking it resolves; this catches an
// archive that names a child block which was never included.
func (ix *IndexedCAR) ConfirmClassification() (Classified, error) {
	classified, err := Classify(ix.car)
	if err != nil {
		return Classified{}, err
	}

	if entries, ok := classified.Tip.Node["e"].([]any); ok {
		for _, entryAny := range entries {
			entry, ok := entryAny.(map[string]any)
			if !ok {
				continue
			}
			if v, ok := entry["v"].(cid.Cid); ok {
				if _, found := ix.byCID[v]; !found {
					return Classified{}, fmt.Errorf("carfile: tip entry references %s, not present in archive", v)
				}
			}
		}
	}

	for _, node := range classified.Tree {
		if l, ok := node.Node["l"].(cid.Cid); ok {
			if _, found := ix.byCID[l]; !found {
				return Classified{}, fmt.Errorf("carfile: tree node references %s, not present in archive", l)
			}
		}
		if entries, ok := node.Node["e"].([]any); ok {
			for _, entryAny := range entries {
				entry, ok := entryAny.(map[string]any)
				if !ok {
					continue
				}
				if t, ok := entry["t"].(cid.Cid); ok {
					if _, found := ix.byCID[t]; !found {
						return Classified{}, fmt.Errorf("carfile: tree node references %s, not present in archive", t)
					}
				}
			}
		}
	}

	return classified, nil
}
