package storage

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Encode serializes a record with deterministic CBOR
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode deserializes a record written by Encode
func Decode(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}

// GetRecord reads and decodes the record at key
func GetRecord(ctx context.Context, r Reader, key Key, v any) error {
	data, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return Decode(data, v)
}

// CreateRecord encodes v and creates it at key
func CreateRecord(ctx context.Context, tx Txn, key Key, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return tx.Create(ctx, key, data)
}

// ReplaceRecord encodes v and overwrites the existing record at key
func ReplaceRecord(ctx context.Context, tx Txn, key Key, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	return tx.Replace(ctx, key, data)
}
