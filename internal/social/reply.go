package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// payBotName is the one bot prepare_payload.py special-cases: a mention
// that doesn't already carry a ready-to-submit amount gets a reply
// prompting for one, instead of being queued as a doomed transaction.
const payBotName = "pay.skeetbot.eth.link"

var (
	decimalAmount = regexp.MustCompile(`^\d+$`)
	floatAmount   = regexp.MustCompile(`^\d+\.\d+$`)
)

// AddressResolver resolves a mentioned DID to the wallet address a
// payment prompt should name, the did->address lookup
// prepare_payload.py's didInfo() performs before building a
// "Skeet the following" reply.
type AddressResolver interface {
	ResolveAddress(did string) (string, error)
}

// FacetMention is one app.bsky.richtext.facet#mention feature carried
// by a text block's facets, naming a mentioned DID.
type FacetMention struct {
	DID string
}

// ReplyGenerator supplements the chain-submission pipeline with the
// payment-prompt behavior prepare_payload.py built for
// pay.skeetbot.eth.link: a mention naming a parseable amount and "ETH"
// token goes straight to chain as a transaction, but a bare mention
// with no amount gets a reply prompting the sender for one instead of
// a transaction attempt that would only fail to parse.
type ReplyGenerator struct {
	Addresses AddressResolver
}

// NeedsTransaction reports whether a mention's post text already reads
// as a submittable "@bot <amount> ETH" request. Every bot other than
// the payment-prompt bot always needs a transaction; the payment-prompt
// bot only needs one once its first three whitespace-separated tokens
// parse as a handle, a bare decimal or float amount no longer than 18
// characters, and the literal token "ETH".
func (g *ReplyGenerator) NeedsTransaction(botName, text string) bool {
	if botName != payBotName {
		return true
	}
	if !strings.HasPrefix(text, "@") {
		return false
	}
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return false
	}
	amount := fields[1]
	if len(amount) > 18 {
		return false
	}
	if !decimalAmount.MatchString(amount) && !floatAmount.MatchString(amount) {
		return false
	}
	return fields[2] == "ETH"
}

// GenerateReply builds the "Skeet the following" prompt for a
// payment-prompt mention that named no ready amount, resolving every
// mentioned DID other than the bot's own to a wallet address via
// Addresses. It reports ok=false for any bot other than the
// payment-prompt bot, or once no mentioned DID resolves to an address,
// mirroring generateReply's empty-message fallthrough.
func (g *ReplyGenerator) GenerateReply(botName, botDID, text string, mentions []FacetMention) (reply string, ok bool) {
	if botName != payBotName || g.Addresses == nil {
		return "", false
	}

	amount, token := extractAmountToken(text)

	var b strings.Builder
	found := false
	for _, m := range mentions {
		if m.DID == "" || m.DID == botDID {
			continue
		}
		addr, err := g.Addresses.ResolveAddress(m.DID)
		if err != nil || addr == "" {
			continue
		}
		b.WriteString("@" + botName + " " + addr + " " + amount + " " + token + "\n")
		found = true
	}
	if !found {
		return "", false
	}
	return "Skeet the following:\n" + b.String(), true
}

// GatewayAddressResolver resolves a DID to a wallet address by querying
// a configured gateway's address-selection endpoint, the role
// prepare_payload.py's skeet_gateway.selectedSafeAddress() plays.
type GatewayAddressResolver struct {
	BaseURL string
	HTTP    *http.Client
}

// NewGatewayAddressResolver builds a GatewayAddressResolver against
// baseURL, e.g. "https://gateway.example/address".
func NewGatewayAddressResolver(baseURL string) *GatewayAddressResolver {
	return &GatewayAddressResolver{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// ResolveAddress implements AddressResolver.
func (r *GatewayAddressResolver) ResolveAddress(did string) (string, error) {
	endpoint := r.BaseURL + "?" + url.Values{"did": {did}}.Encode()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("social: build address lookup request: %w", err)
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("social: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("social: read address lookup response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("social: address lookup for %s returned %d: %s", did, resp.StatusCode, string(body))
	}

	var out struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("social: decode address lookup response: %w", err)
	}
	if out.Address == "" {
		return "", fmt.Errorf("social: no address on file for %s", did)
	}
	return out.Address, nil
}

// extractAmountToken pulls the "<amount> ETH" pair preceding an "ETH"
// token out of a mention's text, defaulting to a placeholder amount
// when the text names no parseable one.
func extractAmountToken(text string) (amount, token string) {
	fields := strings.Fields(text)
	for i, f := range fields {
		if f != "ETH" || i <= 1 {
			continue
		}
		candidate := fields[i-1]
		if decimalAmount.MatchString(candidate) || floatAmount.MatchString(candidate) {
			return candidate, "ETH"
		}
	}
	return "<amount>", "ETH"
}
