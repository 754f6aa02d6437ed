package quality

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

var simhashToken = regexp.MustCompile(`[a-z0-9]+`)

// Simhash is a 64-bit locality-sensitive fingerprint over lower-cased
// alphanumeric tokens. Each token contributes the low 64 bits of its MD5.
func Simhash(text string) uint64 {
	tokens := simhashToken.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return 0
	}
	var v [64]int
	for _, tok := range tokens {
		sum := md5.Sum([]byte(tok))
		h := binary.BigEndian.Uint64(sum[8:])
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				v[i]++
			} else {
				v[i]--
			}
		}
	}
	var fp uint64
	for i := 0; i < 64; i++ {
		if v[i] >= 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

func Hamming(a, b uint64) int { return bits.OnesCount64(a ^ b) }

func FormatSimhash(h uint64) string { return fmt.Sprintf("%016x", h) }

func ParseSimhash(s string) (uint64, error) {
	return strconv.ParseUint(s, 16, 64)
}
