package namespace

import (
	"strconv"
	"unicode/utf16"
)

// DefaultRandomLevel is the depth up to which the namespace service places
// children in their parent's partition.
const DefaultRandomLevel = 1

// Partitioner derives the partition key of a namespace row. Implementations
// must agree bit for bit with the namespace service, otherwise lookups
// silently miss.
type Partitioner interface {
	Partition(parentID int64, name string, depth int) int64
}

// HopsPartitioner is the HopsFS partition function. Rows deeper than
// RandomLevel are spread by hashing name and parent id; shallower rows share
// their parent's id as partition.
type HopsPartitioner struct {
	RandomLevel int
}

// Partition implements Partitioner.
func (p HopsPartitioner) Partition(parentID int64, name string, depth int) int64 {
	if depth > p.RandomLevel {
		return int64(javaHash(name + strconv.FormatInt(parentID, 10)))
	}
	return int64(int32(parentID))
}

// javaHash is java.lang.String#hashCode: s[0]*31^(n-1) + ... + s[n-1] over
// UTF-16 code units with int32 overflow.
func javaHash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(c)
	}
	return h
}
