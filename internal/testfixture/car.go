package testfixture

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"

	"github.com/primal-host/relaybridge/internal/cbordag"
	"github.com/primal-host/relaybridge/internal/cidkit"
)

// CarBuilder assembles a CARv1 archive block by block, in caller-
// controlled order — tests construct the exact ordering the post-proof
// builder's block-classification assumption expects (tip written
// last), the way a hand-rolled repo fixture controls MST shape
// directly instead of deriving it from real inserts.
type CarBuilder struct {
	order []cid.Cid
	bytes map[cid.Cid][]byte
}

// NewCarBuilder returns an empty builder.
func NewCarBuilder() *CarBuilder {
	return &CarBuilder{bytes: make(map[cid.Cid][]byte)}
}

// Add canonically encodes node, appends it to the archive, and returns
// its CID — the value callers embed in a parent node's "data"/"l"/"v"/
// "t" field to link to it.
func (b *CarBuilder) Add(node map[string]any) (cid.Cid, error) {
	raw, err := cbordag.Encode(node)
	if err != nil {
		return cid.Undef, fmt.Errorf("testfixture: encode node: %w", err)
	}
	c, err := cidkit.ComputeCID(raw)
	if err != nil {
		return cid.Undef, err
	}
	b.order = append(b.order, c)
	b.bytes[c] = raw
	return c, nil
}

// Bytes serializes the archive as CARv1, in the order nodes were
// added, rooted at the last-added block.
func (b *CarBuilder) Bytes() ([]byte, error) {
	if len(b.order) == 0 {
		return nil, fmt.Errorf("testfixture: empty archive")
	}
	var buf bytes.Buffer
	header := &car.CarHeader{
		Roots:   []cid.Cid{b.order[len(b.order)-1]},
		Version: 1,
	}
	if err := car.WriteHeader(header, &buf); err != nil {
		return nil, fmt.Errorf("testfixture: write car header: %w", err)
	}
	for _, c := range b.order {
		if err := carutil.LdWrite(&buf, c.Bytes(), b.bytes[c]); err != nil {
			return nil, fmt.Errorf("testfixture: write block %s: %w", c, err)
		}
	}
	return buf.Bytes(), nil
}
