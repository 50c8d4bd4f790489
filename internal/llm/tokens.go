package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// encoding is the part of *tiktoken.Tiktoken the truncator uses.
type encoding interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

func loadEncoding() (encoding, error) {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// Truncator cuts prompt inputs down to a token budget so a long
// conversation cannot overflow the model's context window.
type Truncator struct {
	maxTokens int
	load      func() (encoding, error)

	once sync.Once
	enc  encoding
	err  error
}

// NewTruncator returns a Truncator for maxTokens.  A budget of zero or less
// disables truncation and never loads the encoding.
func NewTruncator(maxTokens int) *Truncator {
	return &Truncator{maxTokens: maxTokens, load: loadEncoding}
}

// Enabled reports whether Truncate can shorten text.
func (t *Truncator) Enabled() bool {
	return t != nil && t.maxTokens > 0
}

// Truncate returns text limited to the token budget.
func (t *Truncator) Truncate(text string) (string, error) {
	if !t.Enabled() {
		return text, nil
	}
	t.once.Do(func() {
		load := t.load
		if load == nil {
			load = loadEncoding
		}
		t.enc, t.err = load()
	})
	if t.err != nil {
		return "", fmt.Errorf("load %s encoding: %w", tokenEncoding, t.err)
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text, nil
	}
	return t.enc.Decode(tokens[:t.maxTokens]), nil
}
