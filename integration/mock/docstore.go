package mock

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/openraven/aws-config-discovery/docstore"
)

// DocStore is an in-memory document store with the same stamping and
// identity semantics as the Elasticsearch implementation.
type DocStore struct {
	mu sync.Mutex

	// Indices maps index name to document id to document.
	Indices map[string]map[string]docstore.Document
	// Upserts counts BulkUpsert calls.
	Upserts int
	// Now supplies timestamps; defaults to time.Now.
	Now func() time.Time
}

// NewDocStore creates an empty in-memory store.
func NewDocStore() *DocStore {
	return &DocStore{
		Indices: make(map[string]map[string]docstore.Document),
		Now:     time.Now,
	}
}

// Query implements docstore.Store with exact-match AND filter semantics.
func (m *DocStore) Query(ctx context.Context, index string, filters map[string]string, limit int) []docstore.Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 1
	}

	var docs []docstore.Document
	for _, doc := range m.Indices[index] {
		match := true
		for key, value := range filters {
			if doc.String(key) != value {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		docs = append(docs, deepCopy(doc))
		if len(docs) >= limit {
			break
		}
	}
	return docs
}

// BulkUpsert implements docstore.Store.
func (m *DocStore) BulkUpsert(ctx context.Context, docs []docstore.Document) (docstore.BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Upserts++
	updated := m.Now().UTC().Format(time.RFC3339)

	result := docstore.BulkResult{Items: make([]docstore.ItemResult, 0, len(docs))}
	for _, doc := range docs {
		index := doc.Index()
		id, err := docstore.EncodedNamedUUID(doc.IdentityARN())
		if err != nil {
			result.Items = append(result.Items, docstore.ItemResult{Index: index, Err: err})
			continue
		}

		stored := deepCopy(doc)
		stored[docstore.FieldUpdatedISO] = updated
		stored[docstore.FieldDocumentID] = id

		if m.Indices[index] == nil {
			m.Indices[index] = make(map[string]docstore.Document)
		}
		m.Indices[index][id] = stored
		result.Items = append(result.Items, docstore.ItemResult{Index: index, ID: id})
	}
	return result, nil
}

// EnsureIndices implements docstore.Store.
func (m *DocStore) EnsureIndices(ctx context.Context, names []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		if m.Indices[name] == nil {
			m.Indices[name] = make(map[string]docstore.Document)
		}
	}
	return true
}

// ApplyTemplates implements docstore.Store. Templates are a no-op in memory.
func (m *DocStore) ApplyTemplates(ctx context.Context) bool {
	return true
}

// DeleteAWSIndices implements docstore.Store.
func (m *DocStore) DeleteAWSIndices(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.Indices {
		if len(name) >= 3 && name[:3] == "aws" {
			delete(m.Indices, name)
		}
	}
	return true
}

// Count returns the number of documents in an index.
func (m *DocStore) Count(index string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Indices[index])
}

// GetByARN returns the stored document whose id derives from arn, or nil.
func (m *DocStore) GetByARN(index, arn string) docstore.Document {
	id, err := docstore.EncodedNamedUUID(arn)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.Indices[index][id]
	if !ok {
		return nil
	}
	return deepCopy(doc)
}

func deepCopy(doc docstore.Document) docstore.Document {
	raw, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out docstore.Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return doc
	}
	return out
}

var _ docstore.Store = (*DocStore)(nil)
