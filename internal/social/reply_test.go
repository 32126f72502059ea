package social_test

import (
	"fmt"
	"testing"

	"github.com/primal-host/relaybridge/internal/social"
)

type fakeAddresses map[string]string

func (f fakeAddresses) ResolveAddress(did string) (string, error) {
	addr, ok := f[did]
	if !ok {
		return "", fmt.Errorf("no address for %s", did)
	}
	return addr, nil
}

func TestNeedsTransactionForPayBot(t *testing.T) {
	g := &social.ReplyGenerator{}
	if !g.NeedsTransaction("pay.skeetbot.eth.link", "@pay.skeetbot.eth.link 0.5 ETH to did:plc:abc") {
		t.Fatalf("expected a well-formed amount/ETH mention to need a transaction")
	}
	if g.NeedsTransaction("pay.skeetbot.eth.link", "@pay.skeetbot.eth.link did:plc:abc") {
		t.Fatalf("expected a mention with no amount to not need a transaction")
	}
	if !g.NeedsTransaction("otherbot", "@otherbot no amount here") {
		t.Fatalf("bots other than the payment-prompt bot should always report needing a transaction")
	}
}

func TestGenerateReplyPromptsForMissingAmount(t *testing.T) {
	g := &social.ReplyGenerator{Addresses: fakeAddresses{"did:plc:target": "0xabc123"}}
	mentions := []social.FacetMention{{DID: "did:plc:pay"}, {DID: "did:plc:target"}}

	reply, ok := g.GenerateReply("pay.skeetbot.eth.link", "did:plc:pay", "@pay.skeetbot.eth.link did:plc:target", mentions)
	if !ok {
		t.Fatalf("expected a reply prompt to be generated")
	}
	want := "Skeet the following:\n@pay.skeetbot.eth.link 0xabc123 <amount> ETH\n"
	if reply != want {
		t.Fatalf("unexpected reply: got %q want %q", reply, want)
	}
}

func TestGenerateReplyDeclinesForOtherBots(t *testing.T) {
	g := &social.ReplyGenerator{Addresses: fakeAddresses{"did:plc:target": "0xabc123"}}
	if _, ok := g.GenerateReply("otherbot", "did:plc:other", "@otherbot did:plc:target", []social.FacetMention{{DID: "did:plc:target"}}); ok {
		t.Fatalf("only the payment-prompt bot should ever generate this reply")
	}
}

func TestGenerateReplyDeclinesWhenNoAddressResolves(t *testing.T) {
	g := &social.ReplyGenerator{Addresses: fakeAddresses{}}
	if _, ok := g.GenerateReply("pay.skeetbot.eth.link", "did:plc:pay", "@pay.skeetbot.eth.link did:plc:target", []social.FacetMention{{DID: "did:plc:target"}}); ok {
		t.Fatalf("expected no reply when no mentioned did resolves to an address")
	}
}
