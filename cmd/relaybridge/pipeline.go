package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/primal-host/relaybridge/internal/audit"
	"github.com/primal-host/relaybridge/internal/botconfig"
	"github.com/primal-host/relaybridge/internal/carfile"
	"github.com/primal-host/relaybridge/internal/chain"
	"github.com/primal-host/relaybridge/internal/didproof"
	"github.com/primal-host/relaybridge/internal/identity"
	"github.com/primal-host/relaybridge/internal/postproof"
	"github.com/primal-host/relaybridge/internal/queue"
	"github.com/primal-host/relaybridge/internal/social"
)

// Pipeline drives both filesystem queues through their payload -> tx ->
// report -> completed ring, one sweep at a time. It is the single
// cooperative-loop consumer the queue package's Queue.ReadNext doc
// comment assumes: exactly one goroutine polls each status.
type Pipeline struct {
	postQ *queue.Queue
	didQ  *queue.Queue

	bots     botconfig.Config
	resolver *identity.Resolver
	social   *social.Client
	chain    *chain.Client
	signer   string
	audit    *audit.DB

	// reply supplements the payload stage with the payment-prompt bot's
	// reply-instead-of-transaction behavior. It is nil in configurations
	// that never configure a payment-prompt bot, in which case every
	// mention proceeds straight to the tx stage as before.
	reply *social.ReplyGenerator
}

// Run sweeps both queues every interval until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepPosts(ctx)
			p.sweepDIDs(ctx)
		}
	}
}

// postPayloadItem is the JSON shape of an item in the post queue's
// payload status. Nothing in this binary enqueues one; items are
// written into the payload directory from outside.
type postPayloadItem struct {
	DID           string   `json:"did"`
	RKey          string   `json:"rkey"`
	ATURI         string   `json:"atUri"`
	CAR           []byte   `json:"car"`
	CandidateKeys [][]byte `json:"candidateKeys"`
}

// postTxItem carries a built payload plus what the report stage needs
// to confirm the submission back to the author.
type postTxItem struct {
	Item      postPayloadItem  `json:"item"`
	Payload   *postproof.Payload `json:"payload"`
	RecordCID string           `json:"recordCid"`
}

type postReportItem struct {
	Item      postPayloadItem `json:"item"`
	BotName   string          `json:"botName"`
	Receipt   chain.Receipt   `json:"receipt"`
	RecordCID string          `json:"recordCid"`
	// ReplyOverride, when set, is posted verbatim instead of the default
	// on-chain confirmation text, and skips the expectation of a chain
	// receipt. It carries the payment-prompt bot's "Skeet the following"
	// text for a mention that named no submittable amount.
	ReplyOverride string `json:"replyOverride,omitempty"`
}

func (p *Pipeline) sweepPosts(ctx context.Context) {
	if err := p.advancePostPayload(ctx); err != nil {
		log.Printf("pipeline: post payload stage: %v", err)
	}
	if err := p.advancePostTx(ctx); err != nil {
		log.Printf("pipeline: post tx stage: %v", err)
	}
	if err := p.advancePostReport(ctx); err != nil {
		log.Printf("pipeline: post report stage: %v", err)
	}
}

func (p *Pipeline) advancePostPayload(ctx context.Context) error {
	name, content, ok, err := p.postQ.ReadNext(queue.StatusPayload)
	if err != nil || !ok {
		return err
	}

	var item postPayloadItem
	if err := json.Unmarshal(content, &item); err != nil {
		return p.postQ.Transition(queue.StatusPayload, queue.StatusAbandoned, name, nil)
	}

	car, err := carfile.Parse(bytes.NewReader(item.CAR))
	if err != nil {
		log.Printf("pipeline: parse car for %s: %v", item.ATURI, err)
		return p.postQ.Transition(queue.StatusPayload, queue.StatusPayloadRetry, name, nil)
	}

	if p.reply != nil {
		diverted, err := p.advancePostToReplyPrompt(name, item, car)
		if err != nil {
			return err
		}
		if diverted {
			return nil
		}
	}

	candidates := make([][33]byte, len(item.CandidateKeys))
	for i, k := range item.CandidateKeys {
		copy(candidates[i][:], k)
	}

	payload, err := postproof.Build(ctx, car, postproof.Input{
		DID: item.DID, RKey: item.RKey, ATURI: item.ATURI, Candidates: candidates,
	}, p.bots, p.social)
	if err != nil {
		log.Printf("pipeline: build post proof for %s: %v", item.ATURI, err)
		return p.postQ.Transition(queue.StatusPayload, queue.StatusPayloadRetry, name, nil)
	}

	recordCID := ""
	if len(car.Roots) > 0 {
		recordCID = car.Roots[0].String()
	}

	next, err := json.Marshal(postTxItem{Item: item, Payload: payload, RecordCID: recordCID})
	if err != nil {
		return fmt.Errorf("marshal tx item: %w", err)
	}
	return p.postQ.Transition(queue.StatusPayload, queue.StatusTx, name, next)
}

// advancePostToReplyPrompt checks whether the payment-prompt bot can
// already be satisfied with a reply instead of a transaction, and if
// so, queues the item straight to the report stage with that reply
// text attached. It reports diverted=true once it has transitioned the
// item itself, leaving the caller to return without continuing the
// normal proof-building path.
func (p *Pipeline) advancePostToReplyPrompt(name string, item postPayloadItem, car *carfile.CAR) (diverted bool, err error) {
	classified, err := carfile.Classify(car)
	if err != nil {
		return false, nil
	}
	text, _ := classified.Text.Node["text"].(string)
	botName := leadingMention(text)
	if botName == "" || p.reply.NeedsTransaction(botName, text) {
		return false, nil
	}

	replyText, ok := p.reply.GenerateReply(botName, item.DID, text, extractMentions(classified.Text.Node))
	if !ok {
		return false, nil
	}

	recordCID := ""
	if len(car.Roots) > 0 {
		recordCID = car.Roots[0].String()
	}
	next, err := json.Marshal(postReportItem{Item: item, BotName: botName, RecordCID: recordCID, ReplyOverride: replyText})
	if err != nil {
		return false, fmt.Errorf("marshal reply-prompt report item: %w", err)
	}
	return true, p.postQ.Transition(queue.StatusPayload, queue.StatusReport, name, next)
}

// leadingMention returns the "@handle" token at the start of a post's
// text, without the leading "@", or "" if the text doesn't start with
// one.
func leadingMention(text string) string {
	if len(text) == 0 || text[0] != '@' {
		return ""
	}
	end := len(text)
	for i, r := range text {
		if i > 0 && (r == ' ' || r == '\t' || r == '\n' || r == '\r') {
			end = i
			break
		}
	}
	return text[1:end]
}

// extractMentions reads a text block's app.bsky.richtext.facet#mention
// features into the DID list ReplyGenerator.GenerateReply expects.
func extractMentions(textNode map[string]any) []social.FacetMention {
	facets, _ := textNode["facets"].([]any)
	var mentions []social.FacetMention
	for _, facetAny := range facets {
		facet, ok := facetAny.(map[string]any)
		if !ok {
			continue
		}
		features, _ := facet["features"].([]any)
		for _, featureAny := range features {
			feature, ok := featureAny.(map[string]any)
			if !ok {
				continue
			}
			if feature["$type"] != "app.bsky.richtext.facet#mention" {
				continue
			}
			did, _ := feature["did"].(string)
			if did != "" {
				mentions = append(mentions, social.FacetMention{DID: did})
			}
		}
	}
	return mentions
}

func (p *Pipeline) advancePostTx(ctx context.Context) error {
	name, content, ok, err := p.postQ.ReadNext(queue.StatusTx)
	if err != nil || !ok {
		return err
	}

	var tx postTxItem
	if err := json.Unmarshal(content, &tx); err != nil {
		return p.postQ.Transition(queue.StatusTx, queue.StatusAbandoned, name, nil)
	}

	receipt, err := p.chain.SubmitPost(ctx, tx.Payload, p.signer)
	if err != nil {
		log.Printf("pipeline: submit post for %s: %v", tx.Item.ATURI, err)
		return p.postQ.Transition(queue.StatusTx, queue.StatusTxRetry, name, nil)
	}

	next, err := json.Marshal(postReportItem{
		Item: tx.Item, BotName: tx.Payload.BotName, Receipt: *receipt, RecordCID: tx.RecordCID,
	})
	if err != nil {
		return fmt.Errorf("marshal report item: %w", err)
	}
	return p.postQ.Transition(queue.StatusTx, queue.StatusReport, name, next)
}

func (p *Pipeline) advancePostReport(ctx context.Context) error {
	name, content, ok, err := p.postQ.ReadNext(queue.StatusReport)
	if err != nil || !ok {
		return err
	}

	var report postReportItem
	if err := json.Unmarshal(content, &report); err != nil {
		return p.postQ.Transition(queue.StatusReport, queue.StatusAbandoned, name, nil)
	}

	switch {
	case report.ReplyOverride != "":
		if _, err := p.social.PostReply(ctx, report.Item.ATURI, report.RecordCID, report.Item.ATURI, report.RecordCID, report.ReplyOverride); err != nil {
			log.Printf("pipeline: post reply prompt for %s: %v", report.Item.ATURI, err)
			return p.postQ.Transition(queue.StatusReport, queue.StatusReportRetry, name, nil)
		}
	case p.bots.RequiresReply(report.BotName):
		text := fmt.Sprintf("registered on-chain: %s", report.Receipt.TxHash)
		if _, err := p.social.PostReply(ctx, report.Item.ATURI, report.RecordCID, report.Item.ATURI, report.RecordCID, text); err != nil {
			log.Printf("pipeline: post confirmation reply for %s: %v", report.Item.ATURI, err)
			return p.postQ.Transition(queue.StatusReport, queue.StatusReportRetry, name, nil)
		}
	}

	return p.postQ.Transition(queue.StatusReport, queue.StatusCompleted, name, nil)
}

// didPayloadItem names the DID whose PLC history should be proven and
// submitted next.
type didPayloadItem struct {
	DID string `json:"did"`
}

type didTxItem struct {
	DID     string           `json:"did"`
	Payload *didproof.Payload `json:"payload"`
}

type didReportItem struct {
	DID     string        `json:"did"`
	OpCount int           `json:"opCount"`
	Receipt chain.Receipt `json:"receipt"`
}

func (p *Pipeline) sweepDIDs(ctx context.Context) {
	if err := p.advanceDIDPayload(ctx); err != nil {
		log.Printf("pipeline: did payload stage: %v", err)
	}
	if err := p.advanceDIDTx(ctx); err != nil {
		log.Printf("pipeline: did tx stage: %v", err)
	}
	if err := p.advanceDIDReport(ctx); err != nil {
		log.Printf("pipeline: did report stage: %v", err)
	}
}

func (p *Pipeline) advanceDIDPayload(ctx context.Context) error {
	name, content, ok, err := p.didQ.ReadNext(queue.StatusPayload)
	if err != nil || !ok {
		return err
	}

	var item didPayloadItem
	if err := json.Unmarshal(content, &item); err != nil {
		return p.didQ.Transition(queue.StatusPayload, queue.StatusAbandoned, name, nil)
	}

	log_, err := p.resolver.ResolveAuditLog(ctx, item.DID)
	if err != nil {
		log.Printf("pipeline: resolve audit log for %s: %v", item.DID, err)
		return p.didQ.Transition(queue.StatusPayload, queue.StatusPayloadRetry, name, nil)
	}

	payload, err := didproof.Build(item.DID, log_)
	if err != nil {
		log.Printf("pipeline: build did proof for %s: %v", item.DID, err)
		return p.didQ.Transition(queue.StatusPayload, queue.StatusPayloadRetry, name, nil)
	}

	next, err := json.Marshal(didTxItem{DID: item.DID, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal did tx item: %w", err)
	}
	return p.didQ.Transition(queue.StatusPayload, queue.StatusTx, name, next)
}

func (p *Pipeline) advanceDIDTx(ctx context.Context) error {
	name, content, ok, err := p.didQ.ReadNext(queue.StatusTx)
	if err != nil || !ok {
		return err
	}

	var tx didTxItem
	if err := json.Unmarshal(content, &tx); err != nil {
		return p.didQ.Transition(queue.StatusTx, queue.StatusAbandoned, name, nil)
	}

	receipt, err := p.chain.SubmitDIDUpdate(ctx, tx.Payload)
	if err != nil {
		log.Printf("pipeline: submit did update for %s: %v", tx.DID, err)
		return p.didQ.Transition(queue.StatusTx, queue.StatusTxRetry, name, nil)
	}

	next, err := json.Marshal(didReportItem{DID: tx.DID, OpCount: len(tx.Payload.Ops), Receipt: *receipt})
	if err != nil {
		return fmt.Errorf("marshal did report item: %w", err)
	}
	return p.didQ.Transition(queue.StatusTx, queue.StatusReport, name, next)
}

func (p *Pipeline) advanceDIDReport(ctx context.Context) error {
	name, content, ok, err := p.didQ.ReadNext(queue.StatusReport)
	if err != nil || !ok {
		return err
	}

	var report didReportItem
	if err := json.Unmarshal(content, &report); err != nil {
		return p.didQ.Transition(queue.StatusReport, queue.StatusAbandoned, name, nil)
	}

	for i := 0; i < report.OpCount; i++ {
		if err := p.audit.RecordShadowUpdate(ctx, report.DID, i, "", report.Receipt.TxHash); err != nil {
			log.Printf("pipeline: record shadow update for %s[%d]: %v", report.DID, i, err)
			return p.didQ.Transition(queue.StatusReport, queue.StatusReportRetry, name, nil)
		}
	}

	return p.didQ.Transition(queue.StatusReport, queue.StatusCompleted, name, nil)
}
