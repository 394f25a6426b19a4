// Package docstore abstracts the search-indexable document store the
// discovery pipeline persists into. Documents are schemaless maps with a
// small set of stable fields; their identity is derived from the resource ARN
// so re-running discovery converges on the same stored documents.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Stable field names shared by every persisted document.
const (
	FieldResourceType = "resourceType"
	FieldResourceID   = "resourceId"
	FieldResourceName = "resourceName"
	FieldARN          = "arn"
	FieldAccountID    = "awsAccountId"
	FieldDocumentID   = "documentId"
	FieldUpdatedISO   = "updatedIso"
)

// ErrStore is returned when the document store rejects a write outright.
var ErrStore = errors.New("discovery: document store failure")

// Document is a single schemaless document keyed by its ARN-derived id.
type Document map[string]any

// String returns the document's value for key as a string, or "" when absent
// or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Index returns the index the document belongs in: the lower-cased
// resourceType with colon characters stripped.
func (d Document) Index() string {
	return IndexName(d.String(FieldResourceType))
}

// IndexName normalizes a resource type into an index name.
func IndexName(resourceType string) string {
	return strings.ToLower(strings.ReplaceAll(resourceType, ":", ""))
}

// IdentityARN returns the ARN used for id derivation, checking the
// upper-cased field first. AWS Config snapshot items spell it "ARN";
// everything we synthesize spells it "arn".
func (d Document) IdentityARN() string {
	if arn := d.String("ARN"); arn != "" {
		return arn
	}
	return d.String(FieldARN)
}

// ToDocument converts a typed value into a Document by round-tripping it
// through JSON, so the stored shape is exactly the wire shape of the type.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	return doc, nil
}

// FromDocument decodes a stored Document back into a typed value.
func FromDocument(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshaling document: %w", err)
	}
	return nil
}

// ItemResult is the outcome for one document of a bulk upsert.
type ItemResult struct {
	Index string
	ID    string
	Err   error
}

// BulkResult aggregates the per-document outcomes of one bulk upsert. The
// batch is best-effort: documents that succeeded stay written even when
// others fail.
type BulkResult struct {
	Items []ItemResult
}

// Written returns the number of documents upserted successfully.
func (r BulkResult) Written() int {
	n := 0
	for _, item := range r.Items {
		if item.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of documents that could not be upserted.
func (r BulkResult) Failed() int {
	return len(r.Items) - r.Written()
}

// HasFailures reports whether any document in the batch failed.
func (r BulkResult) HasFailures() bool {
	return r.Failed() > 0
}

// Store is the query + bulk-upsert + index-lifecycle contract the pipeline
// persists through.
type Store interface {
	// Query returns up to limit documents from index matching every filter
	// key/value exactly (match-all when filters is empty). Failures are
	// logged and produce an empty result, never an error: an empty result
	// may mean "no data yet".
	Query(ctx context.Context, index string, filters map[string]string, limit int) []Document

	// BulkUpsert stamps updatedIso and documentId on each document and
	// upserts it into the index named by its resourceType. Individual
	// failures are collected into the result; the error is reserved for
	// failures of the batch call itself.
	BulkUpsert(ctx context.Context, docs []Document) (BulkResult, error)

	// EnsureIndices creates each named index if absent. True only if every
	// index exists afterwards.
	EnsureIndices(ctx context.Context, names []string) bool

	// ApplyTemplates installs the embedded index templates. True only if
	// every template was acknowledged.
	ApplyTemplates(ctx context.Context) bool

	// DeleteAWSIndices drops every aws* index.
	DeleteAWSIndices(ctx context.Context) bool
}
