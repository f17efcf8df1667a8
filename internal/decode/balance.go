package decode

import (
	"math/big"

	"github.com/uho-indexer/uho/internal/solrpc"
)

// DecodeBalanceDeltas computes pre/post token-balance deltas per
// §4.3.3: union of accountIndex across preTokenBalances and
// postTokenBalances, delta = post.amount - pre.amount, rows with
// delta=0 are dropped, and mint/owner are taken from post if present
// else pre.
func DecodeBalanceDeltas(tx *solrpc.ParsedTransaction) []Row {
	if tx == nil {
		return nil
	}
	blockTime := blockTimeOf(tx)

	pre := indexTokenBalances(tx.PreTokenBalances)
	post := indexTokenBalances(tx.PostTokenBalances)

	indices := make(map[int]bool, len(pre)+len(post))
	for idx := range pre {
		indices[idx] = true
	}
	for idx := range post {
		indices[idx] = true
	}

	var rows []Row
	for idx := range indices {
		preBal, hasPre := pre[idx]
		postBal, hasPost := post[idx]

		preAmount := "0"
		if hasPre {
			preAmount = orZero(preBal.Amount)
		}
		postAmount := "0"
		if hasPost {
			postAmount = orZero(postBal.Amount)
		}

		delta := subtractDecimal(postAmount, preAmount)
		if delta == "0" {
			continue
		}

		var mint, owner *string
		if hasPost {
			if postBal.Mint != "" {
				m := postBal.Mint
				mint = &m
			}
			if postBal.Owner != "" {
				o := postBal.Owner
				owner = &o
			}
		} else if hasPre {
			if preBal.Mint != "" {
				m := preBal.Mint
				mint = &m
			}
			if preBal.Owner != "" {
				o := preBal.Owner
				owner = &o
			}
		}

		account := ""
		if idx < len(tx.AccountKeys) {
			account = tx.AccountKeys[idx]
		}

		rows = append(rows, Row{
			Kind: RowBalanceDelta,
			BalanceDelta: &DecodedBalanceDelta{
				AccountIndex: idx,
				Account:      account,
				Mint:         mint,
				Owner:        owner,
				PreAmount:    preAmount,
				PostAmount:   postAmount,
				Delta:        delta,
				Slot:         tx.Slot,
				BlockTime:    blockTime,
				TxSignature:  tx.Signature,
			},
		})
	}
	return rows
}

func indexTokenBalances(balances []solrpc.TokenBalance) map[int]solrpc.TokenBalance {
	out := make(map[int]solrpc.TokenBalance, len(balances))
	for _, b := range balances {
		out[b.AccountIndex] = b
	}
	return out
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// subtractDecimal computes a-b for two decimal-string token amounts,
// returning a signed decimal string. Amounts can exceed u64 (u128 mint
// supply edge cases), so this defers to math/big rather than a
// hand-rolled digit-string subtraction.
func subtractDecimal(a, b string) string {
	ai, aok := new(big.Int).SetString(a, 10)
	bi, bok := new(big.Int).SetString(b, 10)
	if !aok {
		ai = big.NewInt(0)
	}
	if !bok {
		bi = big.NewInt(0)
	}
	return new(big.Int).Sub(ai, bi).String()
}
