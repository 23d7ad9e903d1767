package vital

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestStringPool(t *testing.T) {
	p := newStringPool()

	a := p.internBytes([]byte("SpO2 low"))
	b := p.internBytes([]byte("SpO2 low"))
	assert.Equal(t, "SpO2 low", a)
	assert.Equal(t, unsafe.StringData(a), unsafe.StringData(b), "repeated values share storage")

	assert.Equal(t, "bad�byte", p.internBytes([]byte("bad\xffbyte")))
	assert.Len(t, p.pool, 2)
}

func TestStringPoolCap(t *testing.T) {
	p := newStringPool()
	for i := 0; i < maxInternPoolSize+10; i++ {
		p.internBytes([]byte{byte(i >> 16), byte(i >> 8), byte(i)})
	}
	assert.Len(t, p.pool, maxInternPoolSize)
}
