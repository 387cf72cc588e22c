package router

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tiktoken encoding data is fetched lazily and may require network access
// on first use; estimateTokens falls back to a length-based heuristic if
// that fetch fails, so admission and candidate-selection decisions never
// block on it.
var (
	tiktokenOnce sync.Once
	tiktokenEnc  *tiktoken.Tiktoken
)

func tiktokenEncoding() *tiktoken.Tiktoken {
	tiktokenOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
		tiktokenEnc = enc
	})
	return tiktokenEnc
}

// estimateTokens approximates the token cost of text for rate-limit
// admission (CanAdmit/Record) and candidate filtering. It prefers an
// exact BPE count via tiktoken-go, the same cl100k_base encoding the
// OpenAI-compatible provider family uses, and falls back to a
// characters-per-token heuristic when the encoder is unavailable.
func estimateTokens(text string) int {
	if enc := tiktokenEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}
