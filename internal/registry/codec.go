package registry

import (
	"encoding/json"
	"fmt"

	"github.com/OrcaBus/platform-integration-tests/internal/store"
)

// The codec is the single typed boundary between domain values and the
// tagged-variant records in the partitioned store. Nothing else in the
// engine decodes record bodies.

func encodeRecord(key string, kind store.Kind, v any) (store.Record, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return store.Record{}, fmt.Errorf("encode %s record: %w", kind, err)
	}
	return store.Record{Key: key, Kind: kind, Body: body}, nil
}

func decodeRecord[T any](rec store.Record, want store.Kind) (T, error) {
	var v T
	if rec.Kind != want {
		return v, fmt.Errorf("record %s: kind %s, want %s", rec.Key, rec.Kind, want)
	}
	if err := json.Unmarshal(rec.Body, &v); err != nil {
		return v, fmt.Errorf("decode %s record %s: %w", want, rec.Key, err)
	}
	return v, nil
}

func decodeBody[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode record body: %w", err)
	}
	return v, nil
}

func encodeBody(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record body: %w", err)
	}
	return body, nil
}
