package parser

import (
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dashArtifact is an en dash that went through a cp1252 round trip upstream.
const dashArtifact = "â€“"

// NormalizeKey turns a header name into a record key: lower-cased, the dash
// artifact removed, slashes and whitespace replaced by underscores.
// NormalizeKey(NormalizeKey(x)) == NormalizeKey(x).
func NormalizeKey(k string) string {
	k = strings.ToLower(k)
	for strings.Contains(k, dashArtifact) {
		k = strings.ReplaceAll(k, dashArtifact, "")
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, k)
}

// Normalizer caches NormalizeKey results; report headers repeat on every
// (window, technician) fetch.
type Normalizer struct {
	cache *lru.Cache[string, string]
}

// NewNormalizer builds a normalizer holding up to size keys.
func NewNormalizer(size int) (*Normalizer, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Normalizer{cache: cache}, nil
}

// Normalize returns NormalizeKey(raw), cached.
func (n *Normalizer) Normalize(raw string) string {
	if n == nil || n.cache == nil {
		return NormalizeKey(raw)
	}
	if key, ok := n.cache.Get(raw); ok {
		return key
	}
	key := NormalizeKey(raw)
	n.cache.Add(raw, key)
	return key
}

// Len reports how many keys are cached.
func (n *Normalizer) Len() int {
	if n == nil || n.cache == nil {
		return 0
	}
	return n.cache.Len()
}
