package store

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeValue packs a document value for a blob column. Map keys are sorted
// so equal documents encode to equal bytes.
func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// decodeValue unpacks a blob written by encodeValue. Integers come back as
// int64 and maps as map[string]any.
func decodeValue(raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterface()
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("decode %d bytes: %w", len(raw), err)
	}
	return v, nil
}

func decodeOp(raw []byte) (Op, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode op: got %T, want map", v)
	}
	return Op(m), nil
}
