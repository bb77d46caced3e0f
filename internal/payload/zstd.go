package payload

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// MaxDecodedSize caps how far any zstd payload may expand
const MaxDecodedSize = 256 << 20

// ErrTooLarge is returned when a compressed payload expands past its limit
var ErrTooLarge = errors.New("decompressed payload exceeds size limit")

// IsZstd reports whether data starts with a zstd frame header
func IsZstd(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// ZstdCompression compresses and decompresses whole buffers
type ZstdCompression struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor creates a compressor with its own encoder and decoder.
// Decoding stops with ErrTooLarge past MaxDecodedSize.
func NewZstdCompressor() (*ZstdCompression, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := newDecoder(MaxDecodedSize, 0)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCompression{encoder: encoder, decoder: decoder}, nil
}

// Compress returns the zstd frame for val
func (z *ZstdCompression) Compress(val []byte) []byte {
	return z.encoder.EncodeAll(val, make([]byte, 0, len(val)/2))
}

// Decompress decodes a zstd frame
func (z *ZstdCompression) Decompress(val []byte) ([]byte, error) {
	return decodeAll(z.decoder, val)
}

func newDecoder(limit uint64, concurrency int) (*zstd.Decoder, error) {
	return zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(concurrency),
		zstd.WithDecoderMaxMemory(limit),
	)
}

func decodeAll(d *zstd.Decoder, val []byte) ([]byte, error) {
	out, err := d.DecodeAll(val, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, ErrTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return out, nil
}

// Close releases encoder and decoder resources
func (z *ZstdCompression) Close() {
	z.encoder.Close()
	z.decoder.Close()
}

var (
	sharedOnce sync.Once
	shared     *ZstdCompression
	sharedErr  error
)

// compressor returns the package-wide compressor.
// EncodeAll and DecodeAll are safe for concurrent use.
func compressor() (*ZstdCompression, error) {
	sharedOnce.Do(func() {
		shared, sharedErr = NewZstdCompressor()
	})
	return shared, sharedErr
}

// Compress zstd-compresses data with the shared compressor
func Compress(data []byte) ([]byte, error) {
	z, err := compressor()
	if err != nil {
		return nil, err
	}
	return z.Compress(data), nil
}

// Decompress decodes zstd data with the shared compressor
func Decompress(data []byte) ([]byte, error) {
	z, err := compressor()
	if err != nil {
		return nil, err
	}
	return z.Decompress(data)
}

// DecompressLimit decodes zstd data that may expand to at most limit bytes.
// A limit <= 0 or above MaxDecodedSize falls back to Decompress.
func DecompressLimit(data []byte, limit int64) ([]byte, error) {
	if limit <= 0 || limit >= MaxDecodedSize {
		return Decompress(data)
	}
	d, err := newDecoder(uint64(limit), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer d.Close()
	return decodeAll(d, data)
}
