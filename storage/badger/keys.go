package badger

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Key prefixes for different data types
const (
	vectorPrefix        = "vec"
	sequencePrefix      = "vecseq:"
	recoveryStatePrefix = "recst:"
	recoveryArchPrefix  = "recarc:"
)

// collectionKeys builds keys for one vector collection. Record keys share
// collectionPrefix so the collection can be dropped as a unit.
type collectionKeys struct {
	collection string
	prefix     string
}

func newCollectionKeys(collection string) (collectionKeys, error) {
	if collection == "" || strings.ContainsAny(collection, ":/") {
		return collectionKeys{}, fmt.Errorf("invalid collection name %q", collection)
	}
	return collectionKeys{collection: collection, prefix: vectorPrefix + ":" + collection + ":"}, nil
}

// collectionPrefix covers every key of the collection.
func (k collectionKeys) collectionPrefix() []byte {
	return []byte(k.prefix)
}

// recordPrefix covers record keys, which sort in insertion order.
func (k collectionKeys) recordPrefix() []byte {
	return []byte(k.prefix + "rec:")
}

// recordKey generates a record key from its insertion sequence.
// Format: prefix:rec:<seq big endian>
func (k collectionKeys) recordKey(seq uint64) []byte {
	p := k.recordPrefix()
	buf := make([]byte, len(p)+8)
	offset := copy(buf, p)
	// BigEndian so lexicographic order is insertion order
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// sequenceName lives outside collectionPrefix. A live badger.Sequence
// restarts at zero once its key is gone, so DropPrefix must not remove it.
func (k collectionKeys) sequenceName() string {
	return sequencePrefix + k.collection
}

func makeRecoveryStateKey(id string) []byte {
	return []byte(recoveryStatePrefix + id)
}

func makeRecoveryArchiveKey(id string) []byte {
	return []byte(recoveryArchPrefix + id)
}
