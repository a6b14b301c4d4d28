package mvstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Committed versions are persisted as a log of records, one per delta:
//
//	key:   'v' | version (8 bytes, big endian) | seq (4 bytes, big endian)
//	value: op (1 byte) | uvarint(len(user key)) | user key | payload
//
// Big-endian versions make a backend range scan replay commits in order.

const (
	recordPrefix   = byte('v')
	recordKeyLen   = 1 + 8 + 4
	recordOpSet    = byte(0)
	recordOpRemove = byte(1)
)

var (
	recordLo = []byte{recordPrefix}
	recordHi = []byte{recordPrefix + 1}
)

var CorruptRecordErr = errors.New("mvstore: corrupt record")

func encodeRecordKey(version Version, seq uint32) []byte {
	buf := make([]byte, recordKeyLen)
	buf[0] = recordPrefix
	binary.BigEndian.PutUint64(buf[1:], version)
	binary.BigEndian.PutUint32(buf[9:], seq)
	return buf
}

func decodeRecordKey(buf []byte) (Version, uint32, error) {
	if len(buf) != recordKeyLen || buf[0] != recordPrefix {
		return 0, 0, errors.Wrapf(CorruptRecordErr, "record key %x", buf)
	}
	return binary.BigEndian.Uint64(buf[1:]), binary.BigEndian.Uint32(buf[9:]), nil
}

func encodeRecord(d Delta) []byte {
	payload := d.Value.Slice()
	buf := make([]byte, 0, 1+binary.MaxVarintLen64+len(d.Key)+len(payload))
	if d.IsRemove() {
		buf = append(buf, recordOpRemove)
	} else {
		buf = append(buf, recordOpSet)
	}
	buf = binary.AppendUvarint(buf, uint64(len(d.Key)))
	buf = append(buf, d.Key...)
	return append(buf, payload...)
}

// decodeRecord copies out of buf; backends may reuse it after the callback.
func decodeRecord(buf []byte) (Delta, error) {
	if len(buf) < 2 {
		return Delta{}, errors.Wrap(CorruptRecordErr, "record too short")
	}
	op := buf[0]
	keyLen, n := binary.Uvarint(buf[1:])
	if n <= 0 || uint64(len(buf)-1-n) < keyLen {
		return Delta{}, errors.Wrap(CorruptRecordErr, "bad key length")
	}
	rest := buf[1+n:]
	key := append([]byte(nil), rest[:keyLen]...)

	switch op {
	case recordOpSet:
		return Set(key, append([]byte{}, rest[keyLen:]...)), nil
	case recordOpRemove:
		return Remove(key), nil
	default:
		return Delta{}, errors.Wrapf(CorruptRecordErr, "unknown op %d", op)
	}
}
