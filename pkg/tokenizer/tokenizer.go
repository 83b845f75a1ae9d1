package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/xhad/webrag/internal/types"
)

const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens with a tiktoken BPE encoding.
type Tokenizer struct {
	encoding string
	tke      *tiktoken.Tiktoken
}

func New(encoding string) (*Tokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}

	return &Tokenizer{
		encoding: encoding,
		tke:      tke,
	}, nil
}

func (t *Tokenizer) Encode(text string) ([]int, error) {
	return t.tke.Encode(text, nil, nil), nil
}

func (t *Tokenizer) Encoding() string {
	return t.encoding
}

// Count returns the number of tokens tok produces for text.
func Count(tok types.Tokenizer, text string) (int, error) {
	tokens, err := tok.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(tokens), nil
}

// Words is a whitespace tokenizer. It needs no encoding files, which makes
// it useful offline and in tests.
type Words struct{}

func (Words) Encode(text string) ([]int, error) {
	fields := strings.Fields(text)
	tokens := make([]int, len(fields))
	for i := range fields {
		tokens[i] = i
	}
	return tokens, nil
}
