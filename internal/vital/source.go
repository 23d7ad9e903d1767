package vital

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

// DecodeGzip decompresses r and decodes the contained stream.
func DecodeGzip(r io.Reader, opts ...Option) (*Recording, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer zr.Close()
	return Decode(zr, opts...)
}

// Open decodes the vital file at path. Plain (already decompressed)
// streams are accepted as well.
func Open(path string, opts ...Option) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeAny(f, opts...)
}

// DecodeAny decodes r, decompressing it first when it starts with the gzip
// magic.
func DecodeAny(r io.Reader, opts ...Option) (*Recording, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(gzipMagic))
	if err == nil && bytes.Equal(magic, gzipMagic) {
		return DecodeGzip(br, opts...)
	}
	return Decode(br, opts...)
}

// ReadHeader reads only the file header of the vital file at path.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return Header{}, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return readHeader(r)
}

// Sniff reports whether path holds a vital recording.
func Sniff(path string) (bool, error) {
	if _, err := ReadHeader(path); err != nil {
		if errors.Is(err, ErrBadSignature) || errors.Is(err, ErrTruncatedInput) || errors.Is(err, gzip.ErrHeader) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
