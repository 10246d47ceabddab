package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// intervalWindow is the number of recent inter-arrival samples kept per
// pattern for the moving average.
const intervalWindow = 10

// QueryPattern tracks how often a coarse query shape is seen, how regularly,
// and which shapes tend to follow it.
type QueryPattern struct {
	Pattern      string         `json:"pattern"`
	Count        int            `json:"count"`
	LastSeen     float64        `json:"last_seen"`
	AvgInterval  float64        `json:"avg_interval"`
	NextPatterns map[string]int `json:"next_patterns"`

	lastIntervals []float64
}

func newQueryPattern(pattern string, now time.Time) *QueryPattern {
	return &QueryPattern{
		Pattern:      pattern,
		Count:        1,
		LastSeen:     unixSeconds(now),
		NextPatterns: make(map[string]int),
	}
}

// update records another observation of this pattern and refreshes the moving
// inter-arrival average.
func (p *QueryPattern) update(now time.Time) {
	interval := unixSeconds(now) - p.LastSeen

	p.lastIntervals = append(p.lastIntervals, interval)
	if len(p.lastIntervals) > intervalWindow {
		p.lastIntervals = p.lastIntervals[1:]
	}

	var total float64
	for _, v := range p.lastIntervals {
		total += v
	}
	p.AvgInterval = total / float64(len(p.lastIntervals))

	p.Count++
	p.LastSeen = unixSeconds(now)
}

// addNext increments the successor histogram for the pattern observed right
// after this one.
func (p *QueryPattern) addNext(next string) {
	p.NextPatterns[next]++
}

// PredictedPattern is a likely-next pattern with its observed probability.
type PredictedPattern struct {
	Pattern     string  `json:"pattern"`
	Probability float64 `json:"probability"`
}

// nextAbove returns the successors whose observed probability meets the
// threshold, most probable first.
func (p *QueryPattern) nextAbove(threshold float64) []PredictedPattern {
	if len(p.NextPatterns) == 0 {
		return nil
	}

	var total int
	for _, count := range p.NextPatterns {
		total += count
	}

	predictions := make([]PredictedPattern, 0, len(p.NextPatterns))
	for pattern, count := range p.NextPatterns {
		probability := float64(count) / float64(total)
		if probability >= threshold {
			predictions = append(predictions, PredictedPattern{Pattern: pattern, Probability: probability})
		}
	}

	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].Probability != predictions[j].Probability {
			return predictions[i].Probability > predictions[j].Probability
		}
		return predictions[i].Pattern < predictions[j].Pattern
	})
	return predictions
}

// parsePattern splits a coarse pattern string back into its query type and
// parameter map.
func parsePattern(pattern string) (string, map[string]any, bool) {
	queryType, raw, found := strings.Cut(pattern, ":")
	if !found {
		return "", nil, false
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return "", nil, false
	}
	return queryType, params, true
}

// PreloadHint describes one likely-next query in loadable terms: which cell
// to touch and either the data key to fetch or the query type to run.
type PreloadHint struct {
	Type        string  `json:"type"`
	CellKey     string  `json:"cell_key"`
	DataKey     string  `json:"data_key,omitempty"`
	QueryType   string  `json:"query_type,omitempty"`
	Pattern     string  `json:"pattern"`
	Probability float64 `json:"probability"`
}

// decomposeHint turns a predicted pattern into a concrete hint. Patterns
// carrying a data key describe a single-item fetch; everything else is a
// query to re-run.
func decomposeHint(p PredictedPattern) PreloadHint {
	hint := PreloadHint{
		Type:        "cell_query",
		Pattern:     p.Pattern,
		Probability: p.Probability,
	}

	queryType, params, ok := parsePattern(p.Pattern)
	if !ok {
		return hint
	}
	if cellKey, ok := params["cell_key"].(string); ok {
		hint.CellKey = cellKey
	}
	if dataKey, ok := params["data_key"].(string); ok && dataKey != "" {
		hint.Type = "cell_data"
		hint.DataKey = dataKey
		return hint
	}
	hint.QueryType = queryType
	return hint
}

// savePatterns persists recurring patterns (count >= 3) as JSON. Errors are
// returned to the caller to log; persistence failures never affect caching.
func savePatterns(path string, patterns map[string]*QueryPattern) error {
	recurring := make(map[string]*QueryPattern)
	for key, p := range patterns {
		if p.Count >= 3 {
			recurring[key] = p
		}
	}

	encoded, err := json.Marshal(recurring)
	if err != nil {
		return fmt.Errorf("failed to encode patterns: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create patterns directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o640); err != nil {
		return fmt.Errorf("failed to write patterns: %w", err)
	}
	return nil
}

// loadPatterns reads previously persisted patterns. A missing file is not an
// error.
func loadPatterns(path string) (map[string]*QueryPattern, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]*QueryPattern{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns: %w", err)
	}

	patterns := make(map[string]*QueryPattern)
	if err := json.Unmarshal(raw, &patterns); err != nil {
		return nil, fmt.Errorf("failed to decode patterns: %w", err)
	}

	for _, p := range patterns {
		if p.NextPatterns == nil {
			p.NextPatterns = make(map[string]int)
		}
	}
	return patterns, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
