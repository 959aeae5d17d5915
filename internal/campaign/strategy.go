package campaign

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"strings"

	"whatspro/internal/store"
)

// rngFor seeds a local RNG from (campaign, salt, index) so "random" draws
// are stable for a given target: preview, dispatch and resume all compute
// the same assignment.
func rngFor(campaignID, salt string, index int) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(campaignID))
	_, _ = h.Write([]byte(salt))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(index))
	_, _ = h.Write(buf[:])
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// SessionFor picks the session for one target index.
func SessionFor(c *store.Campaign, index int) string {
	pool := c.Sessions
	if len(pool) == 0 {
		return ""
	}
	switch c.SessionStrategy {
	case SessionRoundRobin:
		return pool[index%len(pool)]
	case SessionRandom:
		return pool[rngFor(c.ID, "session", index).Intn(len(pool))]
	case SessionLoadBalanced:
		// Contiguous buckets over the full list, sizes differing by at
		// most one.
		total := len(c.Targets)
		if total == 0 {
			return pool[0]
		}
		bucket := index * len(pool) / total
		if bucket >= len(pool) {
			bucket = len(pool) - 1
		}
		return pool[bucket]
	default: // manual
		return pool[0]
	}
}

// VariantFor picks the message variant index for one target index.
func VariantFor(c *store.Campaign, index int) int {
	n := len(c.Variants)
	if n <= 1 {
		return 0
	}
	switch c.TemplateStrategy {
	case TemplateRoundRobin:
		return index % n
	case TemplateRandom:
		return rngFor(c.ID, "variant", index).Intn(n)
	case TemplateWeighted:
		total := 0
		for _, v := range c.Variants {
			if v.Weight > 0 {
				total += v.Weight
			}
		}
		if total <= 0 {
			// No explicit weights: equal-weight draw.
			return rngFor(c.ID, "variant", index).Intn(n)
		}
		r := rngFor(c.ID, "variant", index).Intn(total)
		for i, v := range c.Variants {
			w := v.Weight
			if w < 0 {
				w = 0
			}
			if r < w {
				return i
			}
			r -= w
		}
		return n - 1
	default: // manual
		return 0
	}
}

// Assign resolves the full assignment for one target index.
func Assign(c *store.Campaign, index int) Assignment {
	return Assignment{
		Index:        index,
		Target:       c.Targets[index],
		SessionID:    SessionFor(c, index),
		VariantIndex: VariantFor(c, index),
	}
}

// Preview returns assignments for the first n targets (all of them when
// n <= 0). Dispatch uses the exact same computation.
func Preview(c *store.Campaign, n int) []Assignment {
	if n <= 0 || n > len(c.Targets) {
		n = len(c.Targets)
	}
	out := make([]Assignment, n)
	for i := 0; i < n; i++ {
		out[i] = Assign(c, i)
	}
	return out
}

// normalizeStrategy folds the accepted spellings ("round_robin",
// "load_balanced") onto the canonical hyphenated names.
func normalizeStrategy(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}
