package solrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/uho-indexer/uho/internal/uhoerrors"
)

const (
	requestTimeout = 10 * time.Second
	maxRetries     = 3
	baseBackoff    = 250 * time.Millisecond
)

// Client wraps rpc.Client with the timeout/retry contract §4.4
// specifies: every call carries a 10s timeout and is retried 3 times
// with 250ms*2^n backoff. Every failed call is retried, whatever the
// cause; 5xx and network errors are not told apart from other failures.
type Client struct {
	rpc    *rpc.Client
	logger zerolog.Logger
}

func New(endpoint string, logger zerolog.Logger) *Client {
	return &Client{
		rpc:    rpc.New(endpoint),
		logger: logger.With().Str("component", "solrpc").Logger(),
	}
}

// GetCurrentSlot returns the chain's current slot at the given
// commitment level.
func (c *Client) GetCurrentSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	var slot uint64
	err := c.withRetry(ctx, "getSlot", func(ctx context.Context) error {
		s, err := c.rpc.GetSlot(ctx, commitment)
		if err != nil {
			return err
		}
		slot = s
		return nil
	})
	return slot, err
}

// SignaturesOpts bounds one page request to getSignaturesForAddress.
type SignaturesOpts struct {
	Limit     int // ≤ 1000
	Before    string
	Until     string
	Commitment rpc.CommitmentType
}

// GetSignaturesForAddress returns one page of signatures for programID,
// newest-first. Pagination by the "before" cursor is the caller's
// responsibility.
func (c *Client) GetSignaturesForAddress(ctx context.Context, programID string, opts SignaturesOpts) ([]SignatureInfo, error) {
	pk, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid program id %q: %v", programID, err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	rpcOpts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: opts.Commitment,
	}
	if opts.Before != "" {
		sig, err := solana.SignatureFromBase58(opts.Before)
		if err != nil {
			return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid before cursor: %v", err)
		}
		rpcOpts.Before = sig
	}
	if opts.Until != "" {
		sig, err := solana.SignatureFromBase58(opts.Until)
		if err != nil {
			return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid until cursor: %v", err)
		}
		rpcOpts.Until = sig
	}

	var out []SignatureInfo
	err = c.withRetry(ctx, "getSignaturesForAddress", func(ctx context.Context) error {
		res, err := c.rpc.GetSignaturesForAddressWithOpts(ctx, pk, rpcOpts)
		if err != nil {
			return err
		}
		out = make([]SignatureInfo, 0, len(res))
		for _, s := range res {
			info := SignatureInfo{
				Signature: s.Signature.String(),
				Slot:      s.Slot,
				Err:       s.Err,
			}
			if s.BlockTime != nil {
				t := int64(*s.BlockTime)
				info.BlockTime = &t
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// GetParsedTransaction fetches and normalizes a transaction by
// signature. Returns (nil, nil) when the RPC node has not yet indexed
// the transaction — the caller re-tries on the next poll.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, uhoerrors.NewValidationError(uhoerrors.CodeValidation, "invalid signature %q: %v", signature, err)
	}

	maxVersion := uint64(0)
	var result *rpc.GetParsedTransactionResult
	err = c.withRetry(ctx, "getParsedTransaction", func(ctx context.Context) error {
		res, err := c.rpc.GetParsedTransaction(ctx, sig, &rpc.GetParsedTransactionOpts{
			MaxSupportedTransactionVersion: &maxVersion,
			Commitment:                     rpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return normalizeParsedTransaction(signature, result), nil
}

func normalizeParsedTransaction(signature string, res *rpc.GetParsedTransactionResult) *ParsedTransaction {
	pt := &ParsedTransaction{
		Slot:      res.Slot,
		Signature: signature,
	}
	if res.BlockTime != nil {
		t := int64(*res.BlockTime)
		pt.BlockTime = &t
	}
	if res.Meta != nil {
		pt.Err = res.Meta.Err
		pt.LogMessages = res.Meta.LogMessages
		pt.PreTokenBalances = normalizeTokenBalances(res.Meta.PreTokenBalances)
		pt.PostTokenBalances = normalizeTokenBalances(res.Meta.PostTokenBalances)
		pt.InnerInstructions = normalizeInnerInstructions(res.Meta.InnerInstructions)
	}
	if res.Transaction != nil {
		pt.AccountKeys = accountKeyStrings(res.Transaction.Message.AccountKeys)
		pt.Instructions = normalizeParsedInstructions(res.Transaction.Message.Instructions)
	}
	return pt
}

func accountKeyStrings(keys []*rpc.ParsedMessageAccount) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		if k != nil {
			out[i] = k.PublicKey.String()
		}
	}
	return out
}

func normalizeTokenBalances(raw []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(raw))
	for _, tb := range raw {
		entry := TokenBalance{
			AccountIndex: int(tb.AccountIndex),
			Mint:         tb.Mint.String(),
		}
		if tb.Owner != nil {
			entry.Owner = tb.Owner.String()
		}
		if tb.UiTokenAmount != nil {
			entry.Amount = tb.UiTokenAmount.Amount
			if tb.UiTokenAmount.Decimals != 0 {
				d := int(tb.UiTokenAmount.Decimals)
				entry.Decimals = &d
			}
		}
		out = append(out, entry)
	}
	return out
}

func normalizeParsedInstructions(raw []*rpc.ParsedInstruction) []CompiledInstruction {
	out := make([]CompiledInstruction, 0, len(raw))
	for _, ix := range raw {
		if ix == nil {
			continue
		}
		out = append(out, normalizeOneInstruction(ix))
	}
	return out
}

func normalizeOneInstruction(ix *rpc.ParsedInstruction) CompiledInstruction {
	ci := CompiledInstruction{ProgramID: ix.ProgramId.String()}
	if len(ix.Parsed) > 0 {
		var parsed struct {
			Type string         `json:"type"`
			Info map[string]any `json:"info"`
		}
		if err := json.Unmarshal(ix.Parsed, &parsed); err == nil {
			ci.ParsedType = parsed.Type
			ci.ParsedInfo = parsed.Info
		}
	} else {
		ci.Data = []byte(ix.Data)
		accts := make([]string, len(ix.Accounts))
		for i, a := range ix.Accounts {
			accts[i] = a.String()
		}
		ci.Accounts = accts
	}
	return ci
}

func normalizeInnerInstructions(raw []rpc.InnerInstruction) []InnerInstructionSet {
	out := make([]InnerInstructionSet, 0, len(raw))
	for _, inner := range raw {
		set := InnerInstructionSet{Index: int(inner.Index)}
		set.Instructions = normalizeParsedInstructions(parsedInstructionPtrs(inner.Instructions))
		out = append(out, set)
	}
	return out
}

// parsedInstructionPtrs adapts the solana-go InnerInstruction's
// instruction slice (which may be typed as rpc.ParsedInstruction rather
// than pointers) into the pointer slice normalizeParsedInstructions
// expects.
func parsedInstructionPtrs(instrs []rpc.ParsedInstruction) []*rpc.ParsedInstruction {
	out := make([]*rpc.ParsedInstruction, len(instrs))
	for i := range instrs {
		out[i] = &instrs[i]
	}
	return out
}

// withRetry runs fn with a fresh request-scoped timeout, retrying up to
// maxRetries times with exponential backoff on transient failure.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(baseBackoff),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
	), maxRetries)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if err := fn(rctx); err != nil {
			c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("rpc call failed")
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		return uhoerrors.NewRpcTransientError(fmt.Errorf("%s: %w", op, err))
	}
	return nil
}
