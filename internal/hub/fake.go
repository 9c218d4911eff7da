package hub

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory Client used by unit tests that should not require a
// live Redis server. It implements the same semantics as RedisClient for
// the subset of behavior the engine relies on (no real expiry sweeping;
// Expire/SetNX TTLs are tracked but only checked lazily on access).
type Fake struct {
	mu      sync.Mutex
	strs    map[string]string
	expires map[string]time.Time
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	lists   map[string][]string
}

// NewFake builds an empty in-memory hub client.
func NewFake() *Fake {
	return &Fake{
		strs:    map[string]string{},
		expires: map[string]time.Time{},
		hashes:  map[string]map[string]string{},
		sets:    map[string]map[string]struct{}{},
		zsets:   map[string]map[string]float64{},
		lists:   map[string][]string{},
	}
}

func (f *Fake) expired(key string) bool {
	t, ok := f.expires[key]
	return ok && time.Now().After(t)
}

func (f *Fake) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		delete(f.strs, key)
		return "", ErrNotFound
	}
	v, ok := f.strs[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *Fake) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strs[key] = value
	delete(f.expires, key)
	return nil
}

func (f *Fake) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.strs, k)
		delete(f.hashes, k)
		delete(f.sets, k)
		delete(f.zsets, k)
		delete(f.lists, k)
		delete(f.expires, k)
	}
	return nil
}

func (f *Fake) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired(key) {
		return false, nil
	}
	if _, ok := f.strs[key]; ok {
		return true, nil
	}
	if _, ok := f.hashes[key]; ok {
		return true, nil
	}
	if _, ok := f.sets[key]; ok {
		return true, nil
	}
	if _, ok := f.zsets[key]; ok {
		return true, nil
	}
	if _, ok := f.lists[key]; ok {
		return true, nil
	}
	return false, nil
}

func (f *Fake) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.strs[key]; ok && !f.expired(key) {
		return false, nil
	}
	f.strs[key] = value
	if ttl > 0 {
		f.expires[key] = time.Now().Add(ttl)
	} else {
		delete(f.expires, key)
	}
	return true, nil
}

func (f *Fake) HGet(ctx context.Context, key, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *Fake) HSet(ctx context.Context, key string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (f *Fake) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) SAdd(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[key]
	if !ok {
		s = map[string]struct{}{}
		f.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (f *Fake) SRem(ctx context.Context, key string, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(s, m)
	}
	return nil
}

func (f *Fake) SMembers(ctx context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Fake) SIsMember(ctx context.Context, key, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[key]
	if !ok {
		return false, nil
	}
	_, ok = s[member]
	return ok, nil
}

func (f *Fake) SCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.sets[key])), nil
}

func (f *Fake) ZAdd(ctx context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zsets[key]
	if !ok {
		z = map[string]float64{}
		f.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (f *Fake) ZRem(ctx context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if z, ok := f.zsets[key]; ok {
		delete(z, member)
	}
	return nil
}

func (f *Fake) ZRangeByScoreLex(ctx context.Context, key, min, max string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	members := make([]string, 0, len(z))
	for m := range z {
		members = append(members, m)
	}
	sort.Strings(members)
	lo, loInc := parseLex(min)
	hi, hiInc := parseLex(max)
	var out []string
	for _, m := range members {
		if lo != "" && (m < lo || (!loInc && m == lo)) {
			continue
		}
		if hi != "" && (m > hi || (!hiInc && m == hi)) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func parseLex(bound string) (value string, inclusive bool) {
	switch {
	case bound == "-" || bound == "+":
		return "", true
	case strings.HasPrefix(bound, "["):
		return bound[1:], true
	case strings.HasPrefix(bound, "("):
		return bound[1:], false
	default:
		return bound, true
	}
}

func (f *Fake) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	type pair struct {
		member string
		score  float64
	}
	var pairs []pair
	for m, s := range z {
		lowOK := math.IsInf(min, -1) || s >= min
		highOK := math.IsInf(max, 1) || s <= max
		if lowOK && highOK {
			pairs = append(pairs, pair{m, s})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score < pairs[j].score
		}
		return pairs[i].member < pairs[j].member
	})
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.member
	}
	return out, nil
}

func (f *Fake) RPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], values...)
	return nil
}

func (f *Fake) LPush(ctx context.Context, key string, values ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append([]string{v}, f.lists[key]...)
	}
	return nil
}

func (f *Fake) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	n := int64(len(l))
	if n == 0 {
		return nil, nil
	}
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func normalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func (f *Fake) RPopLPush(ctx context.Context, source, dest string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[source]
	if len(l) == 0 {
		return "", ErrNotFound
	}
	v := l[len(l)-1]
	f.lists[source] = l[:len(l)-1]
	f.lists[dest] = append([]string{v}, f.lists[dest]...)
	return v, nil
}

func (f *Fake) LRem(ctx context.Context, key string, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[key]
	out := l[:0:0]
	for _, v := range l {
		if v != value {
			out = append(out, v)
		}
	}
	f.lists[key] = out
	return nil
}

func (f *Fake) LLen(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.lists[key])), nil
}

func (f *Fake) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cur int64
	if s, ok := f.strs[key]; ok && s != "" {
		cur, _ = strconv.ParseInt(s, 10, 64)
	}
	cur += delta
	f.strs[key] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (f *Fake) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	var cur int64
	if s, ok := h[field]; ok && s != "" {
		cur, _ = strconv.ParseInt(s, 10, 64)
	}
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = time.Now().Add(ttl)
	return nil
}

func (f *Fake) Ping(ctx context.Context) error { return nil }
