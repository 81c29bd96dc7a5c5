package domain

import "github.com/golang/snappy"

// CompressPayload encodes a payload blob for storage.
func CompressPayload(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	return snappy.Encode(nil, payload)
}

// DecompressPayload decodes a stored payload blob.
func DecompressPayload(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, nil
	}
	return snappy.Decode(nil, stored)
}
