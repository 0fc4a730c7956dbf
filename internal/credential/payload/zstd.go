package payload

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// The encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls
// and are built once.
var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func compress(input []byte) []byte {
	encoderOnce.Do(func() {
		// NewWriter with a nil writer and valid options cannot fail.
		encoder, _ = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBestCompression),
			zstd.WithEncoderCRC(false),
		)
	})
	return encoder.EncodeAll(input, nil)
}

func decompress(input []byte) ([]byte, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderMaxMemory(MaxRecordLen),
		)
	})
	if decoderErr != nil {
		return nil, decoderErr
	}
	return decoder.DecodeAll(input, nil)
}
