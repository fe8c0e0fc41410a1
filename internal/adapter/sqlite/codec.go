package sqlite

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/tobsdb/nanoq/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// rowCodec turns rows into the blobs stored in the data column.
type rowCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newRowCodec(compress bool) (*rowCodec, error) {
	c := &rowCodec{}
	if !compress {
		return c, nil
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c.encoder, c.decoder = encoder, decoder
	return c, nil
}

func (c *rowCodec) Encode(row types.Row) ([]byte, error) {
	data, err := msgpack.Marshal(map[string]any(row))
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	if c.encoder == nil {
		return data, nil
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *rowCodec) Decode(data []byte) (types.Row, error) {
	if c.decoder != nil {
		var err error
		data, err = c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress row: %w", err)
		}
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}

	row := make(types.Row, len(m))
	for k, v := range m {
		row[k] = types.Normalize(v)
	}
	return row, nil
}
