package docstore

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// stubElasticsearch runs an httptest server that routes requests to handler
// and returns a store wired to it. The product header is required by the v8
// client's server check.
func stubElasticsearch(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Elasticsearch {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return NewElasticsearchWithClient(client, zap.NewNop())
}

func TestElasticsearchQuery(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding search body: %v", err)
		}
		fmt.Fprint(w, `{"hits":{"hits":[{"_source":{"resourceType":"AWSAccount","awsAccountId":"222222222222"}}]}}`)
	})

	docs := store.Query(context.Background(), "awsaccount",
		map[string]string{"awsAccountId": "222222222222"}, 1)

	if gotPath != "/awsaccount/_search" {
		t.Errorf("search path = %q, want /awsaccount/_search", gotPath)
	}
	if size, _ := gotBody["size"].(float64); int(size) != 1 {
		t.Errorf("size = %v, want 1", gotBody["size"])
	}
	raw, _ := json.Marshal(gotBody["query"])
	if !strings.Contains(string(raw), `"awsAccountId":"222222222222"`) {
		t.Errorf("query %s does not carry the term filter", raw)
	}

	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(docs))
	}
	if docs[0].String(FieldAccountID) != "222222222222" {
		t.Errorf("awsAccountId = %q", docs[0].String(FieldAccountID))
	}
}

func TestElasticsearchQueryMatchAll(t *testing.T) {
	var gotBody map[string]any
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"hits":{"hits":[]}}`)
	})

	docs := store.Query(context.Background(), "awsaccount", nil, 1000)
	if len(docs) != 0 {
		t.Errorf("got %d documents, want 0", len(docs))
	}
	raw, _ := json.Marshal(gotBody["query"])
	if !strings.Contains(string(raw), "match_all") {
		t.Errorf("query %s should be match_all without filters", raw)
	}
}

func TestElasticsearchQueryError(t *testing.T) {
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"index_not_found_exception"}}`)
	})

	if docs := store.Query(context.Background(), "awsaccount", nil, 1); docs != nil {
		t.Errorf("got %v, want nil on a search error", docs)
	}
}

func TestElasticsearchBulkUpsert(t *testing.T) {
	var lines []string
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_bulk" {
			t.Errorf("bulk path = %q", r.URL.Path)
		}
		if refresh := r.URL.Query().Get("refresh"); refresh != "true" {
			t.Errorf("refresh = %q, want true", refresh)
		}
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		fmt.Fprint(w, `{"errors":false,"items":[{"update":{"_index":"awsaccount","_id":"x","status":200}}]}`)
	})
	store.now = func() time.Time {
		return time.Date(2020, 4, 1, 12, 0, 0, 0, time.UTC)
	}

	doc := Document{
		FieldResourceType: "AWSAccount",
		FieldARN:          "arn:aws:organizations::account/222222222222",
	}
	result, err := store.BulkUpsert(context.Background(), []Document{doc})
	if err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
	if result.Written() != 1 || result.HasFailures() {
		t.Fatalf("written=%d failed=%d", result.Written(), result.Failed())
	}

	if doc.String(FieldUpdatedISO) != "2020-04-01T12:00:00Z" {
		t.Errorf("updatedIso = %q", doc.String(FieldUpdatedISO))
	}
	wantID, _ := EncodedNamedUUID("arn:aws:organizations::account/222222222222")
	if doc.String(FieldDocumentID) != wantID {
		t.Errorf("documentId = %q, want %q", doc.String(FieldDocumentID), wantID)
	}

	if len(lines) != 2 {
		t.Fatalf("bulk body has %d lines, want action + payload", len(lines))
	}
	var action map[string]map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &action); err != nil {
		t.Fatalf("decoding action line: %v", err)
	}
	if action["update"]["_index"] != "awsaccount" || action["update"]["_id"] != wantID {
		t.Errorf("action line = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"doc_as_upsert":true`) {
		t.Errorf("payload line %s is not a doc_as_upsert", lines[1])
	}
}

func TestElasticsearchBulkUpsertItemFailure(t *testing.T) {
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		fmt.Fprint(w, `{"errors":true,"items":[`+
			`{"update":{"_index":"awsaccount","_id":"a","status":200}},`+
			`{"update":{"_index":"awsregion","_id":"b","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad field"}}}]}`)
	})

	docs := []Document{
		{FieldResourceType: "AWSAccount", FieldARN: "arn:a"},
		{FieldResourceType: "AWSRegion", FieldARN: "arn:b"},
	}
	result, err := store.BulkUpsert(context.Background(), docs)
	if err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
	if result.Written() != 1 || result.Failed() != 1 {
		t.Fatalf("written=%d failed=%d, want 1/1", result.Written(), result.Failed())
	}
	failed := result.Items[1]
	if failed.Err == nil || !strings.Contains(failed.Err.Error(), "mapper_parsing_exception") {
		t.Errorf("item error = %v", failed.Err)
	}
}

func TestElasticsearchBulkUpsertMissingARN(t *testing.T) {
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no bulk request should be sent when every document is rejected locally")
	})

	result, err := store.BulkUpsert(context.Background(), []Document{
		{FieldResourceType: "AWSAccount"},
	})
	if err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
	if result.Failed() != 1 {
		t.Errorf("failed=%d, want 1", result.Failed())
	}
}

func TestElasticsearchBulkUpsertEmpty(t *testing.T) {
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})
	result, err := store.BulkUpsert(context.Background(), nil)
	if err != nil || len(result.Items) != 0 {
		t.Errorf("result=%+v err=%v", result, err)
	}
}

func TestElasticsearchEnsureIndices(t *testing.T) {
	created := map[string]bool{}
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		switch r.Method {
		case http.MethodHead:
			if name == "awsaccount" {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			created[name] = true
			fmt.Fprint(w, `{"acknowledged":true}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	if !store.EnsureIndices(context.Background(), []string{"awsaccount", "awsorganization"}) {
		t.Fatal("EnsureIndices returned false")
	}
	if created["awsaccount"] {
		t.Error("existing index was re-created")
	}
	if !created["awsorganization"] {
		t.Error("missing index was not created")
	}
}

func TestElasticsearchApplyTemplates(t *testing.T) {
	var names []string
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || !strings.HasPrefix(r.URL.Path, "/_template/") {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		names = append(names, strings.TrimPrefix(r.URL.Path, "/_template/"))
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte("mappings")) {
			t.Errorf("template body for %s carries no mappings", r.URL.Path)
		}
		fmt.Fprint(w, `{"acknowledged":true}`)
	})

	if !store.ApplyTemplates(context.Background()) {
		t.Fatal("ApplyTemplates returned false")
	}
	if len(names) != len(indexTemplates()) {
		t.Errorf("installed %d templates, want %d", len(names), len(indexTemplates()))
	}
}

func TestElasticsearchDeleteAWSIndices(t *testing.T) {
	var gotPath string
	store := stubElasticsearch(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"acknowledged":true}`)
	})

	if !store.DeleteAWSIndices(context.Background()) {
		t.Fatal("DeleteAWSIndices returned false")
	}
	if gotPath != "/aws*" {
		t.Errorf("path = %q, want /aws*", gotPath)
	}
}
