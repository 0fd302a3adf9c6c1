package embed

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and cuts text the way the encoder sees it.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// TiktokenTokenizer is a Tokenizer backed by a BPE encoding such as
// cl100k_base.
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Truncate keeps the first maxTokens tokens of text. It returns the kept text
// and the token count of the original. Text within the limit is returned
// unchanged. A cut inside a multi-byte rune drops the partial rune.
func Truncate(tok Tokenizer, text string, maxTokens int) (string, int, bool) {
	if tok == nil {
		return text, 0, false
	}
	tokens := tok.Encode(text)
	if maxTokens <= 0 || len(tokens) <= maxTokens {
		return text, len(tokens), false
	}
	return strings.ToValidUTF8(tok.Decode(tokens[:maxTokens]), ""), len(tokens), true
}
