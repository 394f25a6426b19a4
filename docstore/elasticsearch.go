package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// coreIndices are created up front by EnsureIndices so the read paths never
// query a missing index. The discovery indices themselves are created
// implicitly by the first bulk upsert.
var coreIndices = []string{"awsorganization", "awsaccount", "assetgroup", "scanner"}

// Elasticsearch implements Store against an Elasticsearch cluster.
type Elasticsearch struct {
	client *elasticsearch.Client
	log    *zap.Logger
	now    func() time.Time
}

// NewElasticsearch creates a store from connection settings. Username and
// password may be empty for an unauthenticated cluster.
func NewElasticsearch(address, username, password string, log *zap.Logger) (*Elasticsearch, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{address},
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Elasticsearch{client: client, log: log, now: time.Now}, nil
}

// NewElasticsearchWithClient wraps an existing client. Used by tests to point
// the store at a stub transport.
func NewElasticsearchWithClient(client *elasticsearch.Client, log *zap.Logger) *Elasticsearch {
	return &Elasticsearch{client: client, log: log, now: time.Now}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query implements Store. Failures are logged and yield an empty result.
func (e *Elasticsearch) Query(ctx context.Context, index string, filters map[string]string, limit int) []Document {
	if limit <= 0 {
		limit = 1
	}

	var query map[string]any
	if len(filters) > 0 {
		terms := make([]map[string]any, 0, len(filters))
		for key, value := range filters {
			terms = append(terms, map[string]any{"term": map[string]any{key: value}})
		}
		query = map[string]any{"bool": map[string]any{"filter": terms}}
	} else {
		query = map[string]any{"match_all": map[string]any{}}
	}

	body, err := json.Marshal(map[string]any{"size": limit, "query": query})
	if err != nil {
		e.log.Warn("failed building search request", zap.String("index", index), zap.Error(err))
		return nil
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		e.log.Warn("failed getting documents", zap.String("index", index), zap.Error(err))
		return nil
	}
	defer res.Body.Close()

	if res.IsError() {
		e.log.Warn("failed getting documents",
			zap.String("index", index),
			zap.String("status", res.Status()))
		return nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		e.log.Warn("failed decoding search response", zap.String("index", index), zap.Error(err))
		return nil
	}

	docs := make([]Document, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs
}

type bulkItemStatus struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemStatus `json:"items"`
}

// BulkUpsert implements Store. Each document gets updatedIso and documentId
// stamped, then an update-with-doc_as_upsert action against the index named
// by its resourceType. The refresh flag makes writes visible to the read-back
// the pipeline does right after discovery.
func (e *Elasticsearch) BulkUpsert(ctx context.Context, docs []Document) (BulkResult, error) {
	result := BulkResult{Items: make([]ItemResult, 0, len(docs))}
	if len(docs) == 0 {
		return result, nil
	}

	updated := e.now().UTC().Format(time.RFC3339)

	var buf bytes.Buffer
	submitted := make([]int, 0, len(docs)) // positions in result.Items, in action order
	for _, doc := range docs {
		index := doc.Index()
		id, err := EncodedNamedUUID(doc.IdentityARN())
		if err != nil {
			result.Items = append(result.Items, ItemResult{
				Index: index,
				Err:   fmt.Errorf("deriving document id: %w", err),
			})
			continue
		}

		doc[FieldUpdatedISO] = updated
		doc[FieldDocumentID] = id

		action, err := json.Marshal(map[string]any{
			"update": map[string]any{"_index": index, "_id": id},
		})
		if err != nil {
			result.Items = append(result.Items, ItemResult{Index: index, ID: id, Err: err})
			continue
		}
		payload, err := json.Marshal(map[string]any{"doc": doc, "doc_as_upsert": true})
		if err != nil {
			result.Items = append(result.Items, ItemResult{Index: index, ID: id, Err: err})
			continue
		}

		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(payload)
		buf.WriteByte('\n')

		submitted = append(submitted, len(result.Items))
		result.Items = append(result.Items, ItemResult{Index: index, ID: id})
	}

	if len(submitted) == 0 {
		return result, nil
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()),
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return result, fmt.Errorf("%w: bulk request: %v", ErrStore, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return result, fmt.Errorf("%w: bulk request returned %s: %s", ErrStore, res.Status(), raw)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return result, fmt.Errorf("%w: decoding bulk response: %v", ErrStore, err)
	}

	// Response items come back in action order.
	for i, item := range parsed.Items {
		if i >= len(submitted) {
			break
		}
		for _, status := range item {
			if status.Error != nil {
				result.Items[submitted[i]].Err = fmt.Errorf("%s: %s", status.Error.Type, status.Error.Reason)
			}
		}
	}

	if result.HasFailures() {
		for _, item := range result.Items {
			if item.Err != nil {
				e.log.Warn("document upsert failed",
					zap.String("index", item.Index),
					zap.String("documentId", item.ID),
					zap.Error(item.Err))
			}
		}
	}

	return result, nil
}

// EnsureIndices implements Store.
func (e *Elasticsearch) EnsureIndices(ctx context.Context, names []string) bool {
	ok := true
	for _, name := range names {
		if !e.ensureIndex(ctx, name) {
			ok = false
		}
	}
	return ok
}

func (e *Elasticsearch) ensureIndex(ctx context.Context, name string) bool {
	res, err := e.client.Indices.Exists([]string{name},
		e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		e.log.Warn("failure checking index", zap.String("index", name), zap.Error(err))
		return false
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return true
	}

	created, err := e.client.Indices.Create(name,
		e.client.Indices.Create.WithContext(ctx))
	if err != nil {
		e.log.Warn("failure creating index", zap.String("index", name), zap.Error(err))
		return false
	}
	defer created.Body.Close()
	if created.IsError() {
		e.log.Warn("failure creating index",
			zap.String("index", name),
			zap.String("status", created.Status()))
		return false
	}
	return true
}

// EnsureCoreIndices creates the indices the service expects to exist.
func (e *Elasticsearch) EnsureCoreIndices(ctx context.Context) bool {
	return e.EnsureIndices(ctx, coreIndices)
}

// ApplyTemplates implements Store, installing the embedded legacy index
// templates.
func (e *Elasticsearch) ApplyTemplates(ctx context.Context) bool {
	ok := true
	for name, body := range indexTemplates() {
		res, err := e.client.Indices.PutTemplate(name, bytes.NewReader(body),
			e.client.Indices.PutTemplate.WithContext(ctx))
		if err != nil {
			e.log.Error("failure putting index template", zap.String("template", name), zap.Error(err))
			ok = false
			continue
		}
		if res.IsError() {
			e.log.Error("failure putting index template",
				zap.String("template", name),
				zap.String("status", res.Status()))
			ok = false
		}
		res.Body.Close()
	}
	return ok
}

// DeleteAWSIndices implements Store.
func (e *Elasticsearch) DeleteAWSIndices(ctx context.Context) bool {
	res, err := e.client.Indices.Delete([]string{"aws*"},
		e.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		e.log.Warn("failure deleting indices with pattern aws*", zap.Error(err))
		return false
	}
	defer res.Body.Close()
	if res.IsError() {
		e.log.Warn("failure deleting indices with pattern aws*",
			zap.String("status", res.Status()))
		return false
	}
	return true
}

var _ Store = (*Elasticsearch)(nil)
