package sstable

import (
	"github.com/AndreasBriese/bbloom"
)

const defaultBloomFalsePositiveRate = 0.01

// keyFilter wraps the bloom filter block. It answers "definitely absent" for
// user keys, letting point lookups skip tables and blocks entirely.
type keyFilter struct {
	bloom bbloom.Bloom
}

func buildKeyFilter(keys [][]byte, falsePositiveRate float64) *keyFilter {
	if len(keys) == 0 {
		return nil
	}

	filter := bbloom.New(float64(len(keys)), falsePositiveRate)
	for _, key := range keys {
		filter.Add(key)
	}
	return &keyFilter{bloom: filter}
}

func (me *keyFilter) MayContain(key []byte) bool {
	return me.bloom.Has(key)
}

func (me *keyFilter) Marshal() []byte {
	return me.bloom.JSONMarshal()
}

func unmarshalKeyFilter(data []byte) *keyFilter {
	return &keyFilter{bloom: bbloom.JSONUnmarshal(data)}
}
