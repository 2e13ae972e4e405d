// Package tokenizer estimates token counts with tiktoken encodings.
package tokenizer

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when no encoding name is configured.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens under one encoding. The encoding is loaded lazily
// on first use and cached; a load failure makes every count return 0 so
// callers fall back to their own heuristic.
type Counter struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// New creates a Counter for the named encoding (e.g. "cl100k_base",
// "o200k_base").
func New(encoding string) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Counter{encoding: encoding}
}

// Encoding returns the encoding name.
func (c *Counter) Encoding() string {
	return c.encoding
}

func (c *Counter) encoder() (*tiktoken.Tiktoken, error) {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
	})
	return c.enc, c.err
}

// Err reports the encoding load error, loading it if needed.
func (c *Counter) Err() error {
	_, err := c.encoder()
	return err
}

// CountTokens returns the number of tokens in text, or 0 if text is empty
// or the encoding is unavailable.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := c.encoder()
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
