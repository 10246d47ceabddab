// Package cache implements the liquid cache: a layered in-memory cache that
// learns query patterns and adapts item placement to access behavior.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// predictionThreshold is the minimum successor probability for a
	// pattern to be considered a likely next query.
	predictionThreshold = 0.3

	// persistEvery saves learned patterns after this many observations.
	persistEvery = 100

	// historySize bounds the recent-pattern history used for successor
	// learning and preload hints.
	historySize = 10

	// predictedScore is assigned to items inserted ahead of demand.
	predictedScore = 0.8
)

// item is one cached entry with its access statistics.
type item struct {
	key            string
	source         string
	value          any
	createdAt      time.Time
	lastAccessed   time.Time
	accessCount    int
	ttl            time.Duration
	layer          int
	predictedScore float64
}

func (it *item) expired(now time.Time) bool {
	return now.After(it.createdAt.Add(it.ttl))
}

// Config holds liquid cache settings.
type Config struct {
	Enabled      bool
	MaxSize      int
	DefaultTTL   time.Duration
	Layers       int
	PatternsPath string
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Enabled               bool    `json:"enabled"`
	TotalItems            int     `json:"total_items"`
	MaxSize               int     `json:"max_size"`
	LayerStats            []int   `json:"layer_stats"`
	Hits                  int64   `json:"hits"`
	Misses                int64   `json:"misses"`
	HitRate               float64 `json:"hit_rate"`
	Predictions           int64   `json:"predictions"`
	SuccessfulPredictions int64   `json:"successful_predictions"`
	PredictionRate        float64 `json:"prediction_rate"`
	PatternsCount         int     `json:"patterns_count"`
}

// Liquid is the adaptive layered cache. Layer 0 is the hottest; new entries
// start in the coldest layer and are promoted as their access score grows.
// All state is guarded by a single mutex.
type Liquid struct {
	enabled      bool
	maxSize      int
	defaultTTL   time.Duration
	numLayers    int
	patternsPath string
	logger       *slog.Logger

	mu     sync.Mutex
	layers []map[string]*item

	hits                  int64
	misses                int64
	predictions           int64
	successfulPredictions int64

	patterns     map[string]*QueryPattern
	lastPatterns []string
	observations int
}

// NewLiquid creates the cache and reloads any previously persisted query
// patterns.
func NewLiquid(cfg Config, logger *slog.Logger) *Liquid {
	if cfg.Layers < 1 {
		cfg.Layers = 1
	}

	layers := make([]map[string]*item, cfg.Layers)
	for i := range layers {
		layers[i] = make(map[string]*item)
	}

	patterns, err := loadPatterns(cfg.PatternsPath)
	if err != nil {
		logger.Error("failed to load query patterns", slog.Any("error", err))
		patterns = make(map[string]*QueryPattern)
	}

	return &Liquid{
		enabled:      cfg.Enabled,
		maxSize:      cfg.MaxSize,
		defaultTTL:   cfg.DefaultTTL,
		numLayers:    cfg.Layers,
		patternsPath: cfg.PatternsPath,
		logger:       logger,
		layers:       layers,
		patterns:     patterns,
	}
}

// Enabled reports whether the cache is active.
func (l *Liquid) Enabled() bool {
	return l.enabled
}

// KeyFor builds the cache key for a query: md5 over the query type and the
// canonical (sorted key) JSON form of its parameters. The returned source
// string is the unhashed form, used for tag-based invalidation.
func (l *Liquid) KeyFor(queryType string, params map[string]any) (key, source string) {
	canonical, err := json.Marshal(params)
	if err != nil {
		canonical = []byte("{}")
	}
	source = queryType + ":" + string(canonical)
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:]), source
}

// Get returns the cached value for key. Expired entries are dropped and count
// as misses. Hits refresh access statistics and rescore the item, which may
// move it to a hotter or colder layer.
func (l *Liquid) Get(key string) (any, bool) {
	if !l.enabled {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for layer := 0; layer < l.numLayers; layer++ {
		it, ok := l.layers[layer][key]
		if !ok {
			continue
		}

		if it.expired(now) {
			delete(l.layers[layer], key)
			l.misses++
			return nil, false
		}

		if it.predictedScore > 0 && it.accessCount == 1 {
			l.successfulPredictions++
		}

		idle := now.Sub(it.lastAccessed)
		it.lastAccessed = now
		it.accessCount++
		l.rebalance(it, idle)
		l.hits++
		return it.value, true
	}

	l.misses++
	return nil, false
}

// Set stores a value under key. Predicted entries land in a warmer layer and
// carry a prediction score; everything else starts in the coldest layer.
func (l *Liquid) Set(key, source string, value any, predicted bool) {
	if !l.enabled {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	it := &item{
		key:          key,
		source:       source,
		value:        value,
		createdAt:    now,
		lastAccessed: now,
		accessCount:  1,
		ttl:          l.defaultTTL,
	}

	target := l.numLayers - 1
	if predicted {
		it.predictedScore = predictedScore
		l.predictions++
		if l.numLayers > 1 {
			target = 1
		}
	}
	it.layer = target

	// The key may already live in another layer; replace it.
	l.removeLocked(key)
	l.layers[target][key] = it

	if l.totalLocked() > l.maxSize {
		l.cleanupLocked(now)
	}
}

// Delete removes a key from whichever layer holds it.
func (l *Liquid) Delete(key string) bool {
	if !l.enabled {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeLocked(key)
}

// Clear drops every cached entry. Learned patterns are kept.
func (l *Liquid) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.layers {
		l.layers[i] = make(map[string]*item)
	}
}

// InvalidateRelated removes every entry whose source contains the tag (for
// example a cell key), returning the number of dropped entries.
func (l *Liquid) InvalidateRelated(tag string) int {
	if !l.enabled || tag == "" {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for layer := range l.layers {
		for key, it := range l.layers[layer] {
			if strings.Contains(it.source, tag) {
				delete(l.layers[layer], key)
				removed++
			}
		}
	}
	return removed
}

// Loader computes the value for a predicted query so it can be cached ahead
// of demand. Returning false skips the preload.
type Loader func(queryType string, params map[string]any) (any, bool)

// RegisterQuery records a query observation for pattern learning and caches
// the result when provided. When a loader is given, the likely-next queries
// of the observed pattern are computed and cached ahead of demand. It returns
// the cache key for the query.
func (l *Liquid) RegisterQuery(queryType string, params map[string]any, result any, loader Loader) string {
	if !l.enabled {
		return ""
	}

	key, source := l.KeyFor(queryType, params)
	pattern := l.extractPattern(queryType, params)

	l.mu.Lock()
	l.updatePatternsLocked(pattern)
	var likely []PredictedPattern
	if loader != nil {
		if p, ok := l.patterns[pattern]; ok {
			likely = p.nextAbove(predictionThreshold)
		}
	}
	l.mu.Unlock()

	if result != nil {
		l.Set(key, source, result, false)
	}

	for _, next := range likely {
		l.preload(next.Pattern, loader)
	}
	return key
}

// preload computes and caches one likely-next query. Already cached entries
// are left alone.
func (l *Liquid) preload(pattern string, loader Loader) {
	queryType, params, ok := parsePattern(pattern)
	if !ok {
		return
	}

	key, source := l.KeyFor(queryType, params)
	if l.has(key) {
		return
	}

	value, ok := loader(queryType, params)
	if !ok {
		return
	}
	l.Set(key, source, value, true)
}

// has reports whether a live entry exists for key without touching the
// hit/miss counters or access statistics.
func (l *Liquid) has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for layer := range l.layers {
		if it, ok := l.layers[layer][key]; ok {
			return !it.expired(now)
		}
	}
	return false
}

// PreloadHints returns concrete hints for the likely-next queries of the
// recently observed history, most probable first. Each hint names the cell
// and, depending on the pattern, the data key or query type to load.
func (l *Liquid) PreloadHints(limit int) []PreloadHint {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool)
	hints := make([]PreloadHint, 0)

	// Walk history newest first so fresh context dominates.
	for i := len(l.lastPatterns) - 1; i >= 0; i-- {
		p, ok := l.patterns[l.lastPatterns[i]]
		if !ok {
			continue
		}
		for _, predicted := range p.nextAbove(predictionThreshold) {
			if seen[predicted.Pattern] {
				continue
			}
			seen[predicted.Pattern] = true
			hints = append(hints, decomposeHint(predicted))
			if limit > 0 && len(hints) >= limit {
				return hints
			}
		}
	}
	return hints
}

// HotPatterns returns the most frequently observed patterns.
func (l *Liquid) HotPatterns(limit int) []*QueryPattern {
	l.mu.Lock()
	defer l.mu.Unlock()

	patterns := make([]*QueryPattern, 0, len(l.patterns))
	for _, p := range l.patterns {
		patterns = append(patterns, p)
	}
	sortPatternsByCount(patterns)

	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}
	return patterns
}

// Stats returns a snapshot of the cache counters.
func (l *Liquid) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	layerStats := make([]int, l.numLayers)
	total := 0
	for i, layer := range l.layers {
		layerStats[i] = len(layer)
		total += len(layer)
	}

	stats := Stats{
		Enabled:               l.enabled,
		TotalItems:            total,
		MaxSize:               l.maxSize,
		LayerStats:            layerStats,
		Hits:                  l.hits,
		Misses:                l.misses,
		Predictions:           l.predictions,
		SuccessfulPredictions: l.successfulPredictions,
		PatternsCount:         len(l.patterns),
	}
	if l.hits+l.misses > 0 {
		stats.HitRate = float64(l.hits) / float64(l.hits+l.misses)
	}
	if l.predictions > 0 {
		stats.PredictionRate = float64(l.successfulPredictions) / float64(l.predictions)
	}
	return stats
}

// SavePatterns persists the learned patterns immediately.
func (l *Liquid) SavePatterns() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return savePatterns(l.patternsPath, l.patterns)
}

// extractPattern reduces a query to its coarse shape: the query type plus
// only the structural parameters.
func (l *Liquid) extractPattern(queryType string, params map[string]any) string {
	coarse := make(map[string]any)
	for key, value := range params {
		switch key {
		case "cell_key", "data_key", "collection", "type", "limit", "sort":
			coarse[key] = value
		}
	}

	canonical, err := json.Marshal(coarse)
	if err != nil {
		canonical = []byte("{}")
	}
	return queryType + ":" + string(canonical)
}

// updatePatternsLocked records one observation: pattern counters, the
// successor edge from the previous pattern, history, and periodic
// persistence.
func (l *Liquid) updatePatternsLocked(pattern string) {
	now := time.Now()

	if existing, ok := l.patterns[pattern]; ok {
		existing.update(now)
	} else {
		l.patterns[pattern] = newQueryPattern(pattern, now)
	}

	if len(l.lastPatterns) > 0 {
		previous := l.lastPatterns[len(l.lastPatterns)-1]
		if p, ok := l.patterns[previous]; ok {
			p.addNext(pattern)
		}
	}

	l.lastPatterns = append(l.lastPatterns, pattern)
	if len(l.lastPatterns) > historySize {
		l.lastPatterns = l.lastPatterns[1:]
	}

	l.observations++
	if l.observations%persistEvery == 0 {
		if err := savePatterns(l.patternsPath, l.patterns); err != nil {
			l.logger.Error("failed to persist query patterns", slog.Any("error", err))
		}
	}
}

// rebalance moves an item to the layer its access score earns. The score is
// access frequency scaled down by how long the item sat idle before this hit
// and up by prediction confidence, so hot items rise and stale ones sink.
func (l *Liquid) rebalance(it *item, idle time.Duration) {
	idleHours := idle.Seconds() / 3600
	score := float64(it.accessCount) / math.Max(1, idleHours) * (1 + it.predictedScore)

	target := l.numLayers - 1
	switch {
	case score > 10:
		target = 0
	case score > 5:
		target = 1
	case score > 1:
		target = 2
	}
	if target > l.numLayers-1 {
		target = l.numLayers - 1
	}
	if target == it.layer {
		return
	}

	delete(l.layers[it.layer], it.key)
	it.layer = target
	l.layers[target][it.key] = it
}

// cleanupLocked drops expired entries, then evicts the least valuable items
// (lowest access count, oldest access, coldest layer first) until the cache
// fits its configured capacity.
func (l *Liquid) cleanupLocked(now time.Time) {
	for layer := range l.layers {
		for key, it := range l.layers[layer] {
			if it.expired(now) {
				delete(l.layers[layer], key)
			}
		}
	}

	for l.totalLocked() > l.maxSize {
		var victim *item
		for layer := l.numLayers - 1; layer >= 0 && victim == nil; layer-- {
			for _, it := range l.layers[layer] {
				if victim == nil ||
					it.accessCount < victim.accessCount ||
					(it.accessCount == victim.accessCount && it.lastAccessed.Before(victim.lastAccessed)) {
					victim = it
				}
			}
		}
		if victim == nil {
			return
		}
		delete(l.layers[victim.layer], victim.key)
	}
}

func (l *Liquid) removeLocked(key string) bool {
	for layer := range l.layers {
		if _, ok := l.layers[layer][key]; ok {
			delete(l.layers[layer], key)
			return true
		}
	}
	return false
}

func (l *Liquid) totalLocked() int {
	total := 0
	for _, layer := range l.layers {
		total += len(layer)
	}
	return total
}

func sortPatternsByCount(patterns []*QueryPattern) {
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Pattern < patterns[j].Pattern
	})
}
