package cluster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"
)

const (
	SampleSize        = 8
	minNamerGroupSize = 4
	maxNameRunes      = 40
	maxNameWords      = 5
)

// Sample is what a namer sees of one bookmark.
type Sample struct {
	Title       string `json:"title"`
	Domain      string `json:"domain"`
	Description string `json:"description,omitempty"`
}

type NameRequest struct {
	Samples []Sample
	Tone    Tone
	Mode    Mode
}

// Namer labels a group of bookmarks, typically backed by an LLM.
type Namer interface {
	Name(ctx context.Context, req NameRequest) (string, error)
}

var genericNames = map[string]bool{
	"misc": true, "miscellaneous": true, "other": true, "others": true, "general": true,
	"bookmarks": true, "links": true, "various": true, "uncategorized": true,
	"folder": true, "group": true, "stuff": true,
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "have": true, "has": true, "had": true, "do": true, "does": true,
	"will": true, "would": true, "could": true, "should": true, "can": true, "may": true,
	"this": true, "that": true, "these": true, "those": true, "and": true, "or": true,
	"but": true, "if": true, "then": true, "for": true, "from": true, "with": true,
	"about": true, "into": true, "to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true, "you": true, "your": true,
	"our": true, "we": true, "my": true, "not": true, "all": true, "more": true, "new": true,
	"http": true, "https": true, "www": true, "com": true, "org": true, "net": true,
	"html": true, "index": true, "page": true, "home": true, "welcome": true, "official": true,
	"site": true, "website": true, "blog": true, "post": true,
}

// samplesFor picks up to n items evenly strided across the group.
func samplesFor(items []Item, idx []int, n int) []Sample {
	if len(idx) == 0 {
		return nil
	}
	picks := idx
	if len(idx) > n {
		picks = make([]int, n)
		step := float64(len(idx)) / float64(n)
		for i := 0; i < n; i++ {
			picks[i] = idx[int(float64(i)*step)]
		}
	}
	out := make([]Sample, len(picks))
	for i, p := range picks {
		it := items[p]
		out[i] = Sample{Title: strings.TrimSpace(it.Title), Domain: domainOf(it.URL), Description: strings.TrimSpace(it.Description)}
	}
	return out
}

func domainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// signature identifies a sample set regardless of order.
func signature(samples []Sample) string {
	lines := make([]string, len(samples))
	for i, s := range samples {
		lines[i] = strings.ToLower(s.Domain + "|" + strings.Join(strings.Fields(s.Title), " "))
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	out := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 || stopWords[w] || isNumber(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

type count struct {
	key string
	n   int
}

func ranked(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for k, n := range m {
		out = append(out, count{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	return out
}

// HeuristicName labels samples without a namer: the dominant domain when it covers
// a majority of samples, otherwise the most repeated keywords.
func HeuristicName(samples []Sample, tone Tone, mode Mode) string {
	if len(samples) == 0 {
		return "Unsorted"
	}

	domains := map[string]int{}
	for _, s := range samples {
		if s.Domain != "" {
			domains[s.Domain]++
		}
	}
	byDomain := ranked(domains)
	if len(byDomain) > 0 && byDomain[0].n*2 > len(samples) {
		return domainLabel(byDomain[0].key)
	}

	// Document frequency, so a word repeated inside one title counts once.
	freq := map[string]int{}
	for _, s := range samples {
		seen := map[string]bool{}
		for _, w := range tokenize(s.Title + " " + s.Description) {
			if !seen[w] {
				seen[w] = true
				freq[w]++
			}
		}
	}
	words := ranked(freq)

	limit := 2
	if mode == ModeCategory {
		limit = 1
	}
	var picked []string
	for _, c := range words {
		if c.n < 2 && len(picked) > 0 {
			break
		}
		picked = append(picked, titleWord(c.key))
		if len(picked) == limit {
			break
		}
	}

	if len(picked) == 0 {
		if len(byDomain) > 0 {
			return domainLabel(byDomain[0].key)
		}
		return "Unsorted"
	}

	joiner := " & "
	if tone == ToneClear {
		joiner = " and "
	}
	name := strings.Join(picked, joiner)
	if tone == TonePlayful {
		name = "All about " + name
	}
	if n, ok := ValidateName(name); ok {
		return n
	}
	return picked[0]
}

func domainLabel(host string) string {
	parts := strings.Split(host, ".")
	label := parts[0]
	if len(parts) > 2 && len(parts[len(parts)-2]) > 3 {
		// docs.python.org -> Python
		label = parts[len(parts)-2]
	}
	return titleWord(label)
}

func titleWord(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}

// ValidateName trims a proposed label and rejects empty, generic or overlong ones.
func ValidateName(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	name = strings.Trim(name, "\"'`*.:#- ")
	name = strings.Join(strings.Fields(name), " ")

	if name == "" {
		return "", false
	}
	if utf8.RuneCountInString(name) > maxNameRunes {
		return "", false
	}
	if len(strings.Fields(name)) > maxNameWords {
		return "", false
	}
	if genericNames[strings.ToLower(name)] {
		return "", false
	}
	return name, true
}

// namingCache reuses names for identical sample sets within one run.
// Concurrent lookups of the same signature share one computation.
type namingCache struct {
	mu       sync.Mutex
	names    map[string]string
	inflight singleflight.Group
}

func newNamingCache() *namingCache {
	return &namingCache{names: map[string]string{}}
}

func (c *namingCache) get(sig string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.names[sig]
	return n, ok
}

func (c *namingCache) put(sig, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[sig] = name
}

func (c *namingCache) resolve(sig string, compute func() string) string {
	if n, ok := c.get(sig); ok {
		return n
	}
	v, _, _ := c.inflight.Do(sig, func() (any, error) {
		if n, ok := c.get(sig); ok {
			return n, nil
		}
		n := compute()
		c.put(sig, n)
		return n, nil
	})
	return v.(string)
}

// dedupeSiblings suffixes repeated names with " 2", " 3" in order.
func dedupeSiblings(names []string) []string {
	seen := map[string]int{}
	out := make([]string, len(names))
	for i, n := range names {
		key := strings.ToLower(n)
		seen[key]++
		if seen[key] == 1 {
			out[i] = n
			continue
		}
		out[i] = n + " " + strconv.Itoa(seen[key])
	}
	return out
}
