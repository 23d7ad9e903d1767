package vital

import "strings"

// maxInternPoolSize bounds the pool; past it strings are returned as-is.
const maxInternPoolSize = 1 << 16

// stringPool deduplicates decoded string values. Event and alarm tracks
// repeat a handful of messages many thousands of times.
type stringPool struct {
	pool map[string]string
}

func newStringPool() *stringPool {
	return &stringPool{pool: make(map[string]string)}
}

// internBytes returns the canonical UTF-8 form of b. Invalid sequences
// become U+FFFD. The map lookup on string(b) does not allocate.
func (p *stringPool) internBytes(b []byte) string {
	if s, ok := p.pool[string(b)]; ok {
		return s
	}
	s := strings.ToValidUTF8(string(b), "�")
	if len(p.pool) < maxInternPoolSize {
		p.pool[string(b)] = s
	}
	return s
}
