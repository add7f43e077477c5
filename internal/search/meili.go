package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	idxAssociations = "leavn_tag_associations"

	maxHitsPerQuery = 1000
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Backend via Meilisearch. Calls go through a circuit
// breaker so a struggling instance is skipped until it recovers.
type Meili struct {
	client  meili.ServiceManager
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the index. It never
// fails: an unreachable server starts unhealthy and is retried in the
// background.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "meilisearch",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("search breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxAssociations,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxAssociations), zap.Error(err))
	}

	index := m.client.Index(idxAssociations)
	filterable := []interface{}{"tag", "category", "ownerId", "visibility", "reference"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxAssociations), zap.Error(err))
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.logger.Warn("update sortable attributes", zap.String("index", idxAssociations), zap.Error(err))
	}
	searchable := []string{"tag", "reference"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxAssociations), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) IndexRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.client.Index(idxAssociations).AddDocuments(records, nil)
	})
	if err != nil {
		return fmt.Errorf("index associations: %w", err)
	}
	return nil
}

func (m *Meili) DeleteRecords(ctx context.Context, ids []string) error {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		index := m.client.Index(idxAssociations)
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := index.DeleteDocument(id, nil); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("delete associations: %w", err)
	}
	return nil
}

func (m *Meili) ClearRecords(ctx context.Context) error {
	_, err := m.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.client.Index(idxAssociations).DeleteAllDocuments(nil)
	})
	if err != nil {
		return fmt.Errorf("clear associations: %w", err)
	}
	return nil
}

// References returns distinct references in first-use order.
func (m *Meili) References(ctx context.Context, q Query) ([]string, error) {
	if !m.healthy.Load() {
		return nil, errUnhealthy
	}
	out, err := m.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m.client.Index(idxAssociations).Search("", &meili.SearchRequest{
			Filter:               visibilityFilter(q),
			Sort:                 []string{"createdAt:asc"},
			Limit:                int64(min(q.Limit*5, maxHitsPerQuery)),
			AttributesToRetrieve: []string{"reference"},
		})
	})
	if err != nil {
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			m.healthy.Store(false)
		}
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	resp, ok := out.(*meili.SearchResponse)
	if !ok || resp == nil {
		return nil, errors.New("meilisearch search: unexpected response")
	}
	references := make([]string, 0, q.Limit)
	seen := make(map[string]struct{})
	for _, hit := range resp.Hits {
		ref := decodeString(hit, "reference")
		if ref == "" {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		references = append(references, ref)
		if len(references) == q.Limit {
			break
		}
	}
	return references, nil
}

func visibilityFilter(q Query) []string {
	filters := []string{fmt.Sprintf("tag = %q", q.Tag)}
	if q.ViewerID == "" {
		filters = append(filters, fmt.Sprintf("visibility = %q", VisibilityPublic))
	} else {
		filters = append(filters, fmt.Sprintf("(visibility = %q OR ownerId = %q)", VisibilityPublic, q.ViewerID))
	}
	return filters
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
