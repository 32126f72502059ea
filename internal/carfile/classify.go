package carfile

import "fmt"

// Classified groups a CAR's blocks by the role they play in a
// post-inclusion proof, decided purely by each block's field shape —
// never by its position in the archive, except for the tip node, which
// is by convention written last.
//
// This mirrors generatePayload's classification loop in the reference
// prepare_payload.py tool: a block with a "sig" field is the commit, a
// block with a "text" field is the post record, the last block in the
// archive is the MST tip, and everything else is an interior tree node.
type Classified struct {
	Commit Block
	Text   Block
	Tip    Block
	// Tree holds the interior MST nodes in reverse archival order, the
	// order the inward walk from tip to commit root consumes them in.
	Tree []Block
}

// Classify sorts a CAR's blocks into their proof roles. It returns an
// error if the archive doesn't contain exactly one commit block and
// exactly one text block, or is too short to have a distinct tip.
func Classify(c *CAR) (Classified, error) {
	if len(c.Blocks) < 2 {
		return Classified{}, fmt.Errorf("carfile: archive has %d blocks, need at least a commit and a tip", len(c.Blocks))
	}

	var out Classified
	haveCommit, haveText := false, false
	last := len(c.Blocks) - 1

	for i, b := range c.Blocks {
		switch {
		case i == last:
			out.Tip = b
		case hasField(b.Node, "sig"):
			if haveCommit {
				return Classified{}, fmt.Errorf("carfile: archive has more than one commit block")
			}
			out.Commit = b
			haveCommit = true
		case hasField(b.Node, "text"):
			if haveText {
				return Classified{}, fmt.Errorf("carfile: archive has more than one text block")
			}
			out.Text = b
			haveText = true
		default:
			out.Tree = append(out.Tree, b)
		}
	}

	if !haveCommit {
		return Classified{}, fmt.Errorf("carfile: archive has no commit block")
	}
	if !haveText {
		return Classified{}, fmt.Errorf("carfile: archive has no text (post record) block")
	}

	reverse(out.Tree)
	return out, nil
}

func hasField(node map[string]any, key string) bool {
	_, ok := node[key]
	return ok
}

func reverse(blocks []Block) {
	for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
		blocks[i], blocks[j] = blocks[j], blocks[i]
	}
}
