package lineage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/snapshot"
	"github.com/songzhibin97/dolphin-sync/storage"
)

// MatchStatus is the outcome of matching one table reference against the catalog.
type MatchStatus string

const (
	StatusMatched   MatchStatus = "matched"
	StatusAmbiguous MatchStatus = "ambiguous"
	StatusUnmatched MatchStatus = "unmatched"
)

// TableRefMatch is one table referenced by a statement.
type TableRefMatch struct {
	Name       string      `json:"name"`
	Status     MatchStatus `json:"status"`
	TableID    int64       `json:"tableId,omitempty"`
	Candidates []int64     `json:"candidates,omitempty"`
}

// Analysis is the matcher's view of one SQL text. The matcher may flag a
// table in the top-level lists without a matching ref.
type Analysis struct {
	InputRefs      []TableRefMatch `json:"inputRefs"`
	OutputRefs     []TableRefMatch `json:"outputRefs"`
	AmbiguousNames []string        `json:"ambiguous,omitempty"`
	UnmatchedNames []string        `json:"unmatched,omitempty"`
}

// Ambiguous lists the names of ambiguous references, inputs first, then the
// top-level list, without repeats.
func (a *Analysis) Ambiguous() []string {
	return a.names(StatusAmbiguous, a.AmbiguousNames)
}

// Unmatched lists the names of unmatched references, inputs first, then the
// top-level list, without repeats.
func (a *Analysis) Unmatched() []string {
	return a.names(StatusUnmatched, a.UnmatchedNames)
}

func (a *Analysis) names(status MatchStatus, listed []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, refs := range [][]TableRefMatch{a.InputRefs, a.OutputRefs} {
		for _, ref := range refs {
			if ref.Status == status {
				add(ref.Name)
			}
		}
	}
	for _, name := range listed {
		add(name)
	}
	return out
}

// Matcher resolves the tables read and written by a SQL text.
type Matcher interface {
	Analyze(ctx context.Context, sql, dialect string) (*Analysis, error)
}

// Matched builds a matched reference.
func Matched(name string, tableID int64) TableRefMatch {
	return TableRefMatch{Name: name, Status: StatusMatched, TableID: tableID}
}

// ErrNoFixture is returned by StaticMatcher for SQL it has no analysis for.
var ErrNoFixture = errors.New("no lineage fixture for statement")

// StaticMatcher serves registered analyses keyed by normalized SQL.
type StaticMatcher struct {
	fixtures map[string]*Analysis
	mu       sync.RWMutex
}

// NewStaticMatcher creates an empty StaticMatcher.
func NewStaticMatcher() *StaticMatcher {
	return &StaticMatcher{fixtures: make(map[string]*Analysis)}
}

// Register stores the analysis returned for sql.
func (m *StaticMatcher) Register(sql string, a *Analysis) *StaticMatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[snapshot.NormalizeSQL(sql)] = a
	return m
}

// RegisterTables stores an analysis whose references all matched.
func (m *StaticMatcher) RegisterTables(sql string, inputs, outputs map[string]int64) *StaticMatcher {
	a := &Analysis{InputRefs: []TableRefMatch{}, OutputRefs: []TableRefMatch{}}
	for _, name := range sortedKeys(inputs) {
		a.InputRefs = append(a.InputRefs, Matched(name, inputs[name]))
	}
	for _, name := range sortedKeys(outputs) {
		a.OutputRefs = append(a.OutputRefs, Matched(name, outputs[name]))
	}
	return m.Register(sql, a)
}

func (m *StaticMatcher) Analyze(ctx context.Context, sql, _ string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.fixtures[snapshot.NormalizeSQL(sql)]
	if !ok {
		return nil, ErrNoFixture
	}
	return a, nil
}

// HTTPMatcherOptions configures an HTTPMatcher.
type HTTPMatcherOptions struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration
	Client        *http.Client
}

// HTTPMatcher calls a remote lineage matching service.
type HTTPMatcher struct {
	baseURL       string
	maxRetries    uint64
	retryInterval time.Duration
	client        *http.Client
	logger        *zap.Logger
}

// NewHTTPMatcher creates a matcher for the service at opts.BaseURL.
func NewHTTPMatcher(opts HTTPMatcherOptions, logger *zap.Logger) *HTTPMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPMatcher{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		maxRetries:    opts.MaxRetries,
		retryInterval: opts.RetryInterval,
		client:        client,
		logger:        logger,
	}
}

type analyzeRequest struct {
	SQL     string `json:"sql"`
	Dialect string `json:"dialect,omitempty"`
}

// Analyze posts the statement to /api/v1/lineage/analyze. Transport errors and
// 5xx responses are retried; other failures are returned immediately.
func (m *HTTPMatcher) Analyze(ctx context.Context, sql, dialect string) (*Analysis, error) {
	body, err := json.Marshal(analyzeRequest{SQL: sql, Dialect: dialect})
	if err != nil {
		return nil, err
	}
	var result Analysis
	exp := backoff.NewExponentialBackOff()
	if m.retryInterval > 0 {
		exp.InitialInterval = m.retryInterval
	}
	retryCfg := backoff.WithMaxRetries(
		backoff.WithContext(exp, ctx),
		m.maxRetries,
	)
	err = backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/v1/lineage/analyze", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := m.client.Do(req)
		if err != nil {
			m.logger.Warn("lineage matcher request failed", zap.Error(err))
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			m.logger.Warn("lineage matcher unavailable", zap.Int("status", resp.StatusCode))
			return fmt.Errorf("lineage matcher returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("lineage matcher returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode lineage analysis: %w", err))
		}
		return nil
	}, retryCfg)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CachedMatcher memoizes analyses of another Matcher in a storage.Cache.
// Cache failures are logged and fall through to the inner matcher.
type CachedMatcher struct {
	inner  Matcher
	cache  storage.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedMatcher wraps inner with a read-through cache.
func NewCachedMatcher(inner Matcher, cache storage.Cache, ttl time.Duration, logger *zap.Logger) *CachedMatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedMatcher{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// AnalysisKey is the cache key of one (dialect, sql) pair.
func AnalysisKey(sql, dialect string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(dialect) + "\x00" + snapshot.NormalizeSQL(sql)))
	return storage.CacheKey("lineage", hex.EncodeToString(sum[:]))
}

func (m *CachedMatcher) Analyze(ctx context.Context, sql, dialect string) (*Analysis, error) {
	key := AnalysisKey(sql, dialect)
	var cached Analysis
	ok, err := m.cache.Get(ctx, key, &cached)
	if err != nil {
		m.logger.Warn("lineage cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return &cached, nil
	}

	a, err := m.inner.Analyze(ctx, sql, dialect)
	if err != nil {
		return nil, err
	}
	if err := m.cache.Set(ctx, key, a, m.ttl); err != nil {
		m.logger.Warn("lineage cache write failed", zap.String("key", key), zap.Error(err))
	}
	return a, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
