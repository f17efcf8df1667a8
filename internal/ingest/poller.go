package ingest

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/uho-indexer/uho/internal/decode"
	"github.com/uho-indexer/uho/internal/idl"
	"github.com/uho-indexer/uho/internal/solrpc"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 1000
)

// Poller runs one (tenant, program) ingestion pipeline: page new
// signatures since the last checkpoint, decode each transaction, hand
// the rows to the Writer, then advance the checkpoint. One Poller
// instance exists per active subscription, per §4.5.
//
// The Start/poll split and its bracketed logging are grounded on the
// teacher's NetworkPoller: an immediate poll before the ticker starts,
// then a cooperative select loop that exits cleanly on cancellation.
type Poller struct {
	rpc          *solrpc.Client
	writer       *Writer
	descriptor   *idl.ProgramDescriptor
	namespace    string
	subscriberIDs func() []string
	interval     time.Duration
	batchSize    int
	logger       zerolog.Logger
}

// NewPoller builds a Poller for descriptor.ProgramID in namespace.
// subscriberIDs is called fresh on every tick so a newly added or
// removed subscription is reflected without restarting the pipeline.
func NewPoller(rpcClient *solrpc.Client, writer *Writer, descriptor *idl.ProgramDescriptor, namespace string, pollIntervalMs int, subscriberIDs func() []string) *Poller {
	interval := defaultPollInterval
	if pollIntervalMs > 0 {
		interval = time.Duration(pollIntervalMs) * time.Millisecond
	}
	return &Poller{
		rpc:           rpcClient,
		writer:        writer,
		descriptor:    descriptor,
		namespace:     namespace,
		subscriberIDs: subscriberIDs,
		interval:      interval,
		batchSize:     defaultBatchSize,
		logger:        log.With().Str("component", "poller").Str("program_id", descriptor.ProgramID).Logger(),
	}
}

// Start runs the poll loop until ctx is cancelled. It performs one poll
// immediately, then ticks at p.interval.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info().Dur("interval", p.interval).Msg("[Poller] starting")

	if _, err := p.writer.EnsureCheckpoint(ctx, p.namespace, p.descriptor.ProgramID); err != nil {
		p.logger.Error().Err(err).Msg("[Poller] ensure checkpoint failed")
	}

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("[Poller] stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll runs exactly one iteration of §4.5's loop: page signatures since
// the checkpoint, fetch+decode each new transaction, write the batch,
// then advance the checkpoint to the newest signature seen.
func (p *Poller) poll(ctx context.Context) {
	cp, err := p.writer.GetCheckpoint(ctx, p.namespace, p.descriptor.ProgramID)
	if err != nil {
		p.logger.Error().Err(err).Msg("[Poller] read checkpoint failed")
		return
	}

	sigs, err := p.pageNewSignatures(ctx, cp.LastSignature)
	if err != nil {
		p.logger.Warn().Err(err).Msg("[Poller] getSignaturesForAddress failed")
		return
	}
	if len(sigs) == 0 {
		return
	}

	var rows []decode.Row
	var rawLogs []RawTxLog
	var skips decode.SkipCounters
	newestSig := cp.LastSignature
	newestSlot := cp.LastSlot
	indexed := int64(0)

	for _, sig := range sigs {
		if ctx.Err() != nil {
			return
		}
		if sig.Err != nil {
			continue // failed transaction, never indexed
		}

		tx, err := p.rpc.GetParsedTransaction(ctx, sig.Signature)
		if err != nil {
			p.logger.Warn().Err(err).Str("signature", sig.Signature).Msg("[Poller] getParsedTransaction failed")
			continue
		}
		if tx == nil {
			break // not yet visible; retried next tick since checkpoint hasn't advanced past it
		}

		rows = append(rows, decode.DecodeEvents(p.descriptor, tx, &skips)...)
		rows = append(rows, decode.DecodeInstructions(p.descriptor, tx, &skips)...)
		rows = append(rows, decode.DecodeTokenTransfers(tx, &skips)...)
		rows = append(rows, decode.DecodeBalanceDeltas(tx)...)
		if len(tx.LogMessages) > 0 {
			rawLogs = append(rawLogs, RawTxLog{Slot: tx.Slot, TxSignature: tx.Signature, LogMessages: tx.LogMessages})
		}

		newestSig = sig.Signature
		newestSlot = sig.Slot
		indexed++
	}

	stats, err := p.writer.WriteBatch(ctx, p.namespace, p.descriptor, p.subscriberIDs(), rows, rawLogs)
	if err != nil {
		p.logger.Error().Err(err).Msg("[Poller] write batch failed; checkpoint not advanced")
		msg := err.Error()
		if serr := p.writer.SetCheckpointStatus(ctx, p.namespace, p.descriptor.ProgramID, "error", &msg); serr != nil {
			p.logger.Error().Err(serr).Msg("[Poller] set error status failed")
		}
		return
	}

	cp.LastSignature = newestSig
	cp.LastSlot = newestSlot
	cp.EventsIndexed += stats.EventsWritten
	cp.InstructionsIndexed += stats.InstructionsWritten
	cp.Status = "running"
	if err := p.writer.UpdateCheckpoint(ctx, p.namespace, *cp); err != nil {
		p.logger.Error().Err(err).Msg("[Poller] checkpoint update failed")
		return
	}

	p.logger.Debug().
		Int("signatures", len(sigs)).
		Int64("events", stats.EventsWritten).
		Int64("instructions", stats.InstructionsWritten).
		Msg("[Poller] tick complete")
}

// pageNewSignatures walks getSignaturesForAddress pages newest-first
// until it reaches lastSignature (or an empty page), then reverses the
// result so the caller processes chronologically, per §4.5 step 1.
func (p *Poller) pageNewSignatures(ctx context.Context, lastSignature string) ([]solrpc.SignatureInfo, error) {
	var all []solrpc.SignatureInfo
	before := ""

	for {
		page, err := p.rpc.GetSignaturesForAddress(ctx, p.descriptor.ProgramID, solrpc.SignaturesOpts{
			Limit:      p.batchSize,
			Before:     before,
			Until:      lastSignature,
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < p.batchSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	reverseSignatures(all)
	return all, nil
}

func reverseSignatures(s []solrpc.SignatureInfo) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
