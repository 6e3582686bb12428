package format

import "strings"

// BlockSeparator sits between consecutive per-file text blocks.
const BlockSeparator = "\n\n"

// Combine joins blocks in order. Empty blocks are kept so the output always
// has one block per input.
func Combine(blocks []string, sep string) string {
	var b strings.Builder
	for i, txt := range blocks {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(txt)
	}
	return b.String()
}
