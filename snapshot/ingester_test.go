package snapshot_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/openraven/aws-config-discovery/configinfo"
	"github.com/openraven/aws-config-discovery/credentials"
	"github.com/openraven/aws-config-discovery/docstore"
	"github.com/openraven/aws-config-discovery/integration/mock"
	"github.com/openraven/aws-config-discovery/metrics"
	"github.com/openraven/aws-config-discovery/organization"
	"github.com/openraven/aws-config-discovery/snapshot"
)

const (
	masterAccount = "111111111111"
	memberAccount = "222222222222"
	region        = "us-east-1"
	bucket        = "config-bucket"
	channel       = "default"
)

func newService(factory *mock.Factory, store *mock.DocStore) (*snapshot.Service, *metrics.Metrics) {
	log := zap.NewNop()
	broker := credentials.NewSTSBroker(factory.STSClient, log)
	orgService := organization.NewService(factory, broker, store, log)
	m := metrics.NewMetrics()
	configService := configinfo.NewService(factory, broker, store, orgService, log, m)
	return snapshot.NewService(factory, broker, store, configService, log, m), m
}

// seedAccount stores an account document whose us-east-1 region has a
// delivery channel with the given last successful delivery time, plus the
// synthetic global region.
func seedAccount(t *testing.T, store *mock.DocStore, lastSuccessful string) {
	t.Helper()
	acct := configinfo.Account{
		Account: organization.Account{
			ID:   memberAccount,
			Name: "platform",
			ARN:  "arn:aws:organizations::account/" + memberAccount,
		},
		MasterAccountID: masterAccount,
		Regions: []configinfo.Region{
			{
				ID:          region,
				Description: "US East (N. Virginia)",
				ConfigServiceState: &configinfo.ConfigServiceState{
					DeliveryChannel: &configinfo.DeliveryChannel{
						Name:         channel,
						S3BucketName: bucket,
					},
					DeliveryChannelStatus: &configinfo.DeliveryChannelStatus{
						Name: channel,
						ConfigSnapshotDeliveryInfo: &configinfo.DeliveryInfo{
							LastStatus:         "SUCCESS",
							LastSuccessfulTime: lastSuccessful,
						},
					},
				},
			},
			{ID: configinfo.GlobalRegionID, Description: "Global"},
		},
		AWSAccountID: memberAccount,
		ResourceID:   memberAccount,
		ResourceName: "platform",
		ResourceType: configinfo.AccountResourceType,
	}
	doc, err := docstore.ToDocument(acct)
	if err != nil {
		t.Fatalf("building account document: %v", err)
	}
	if _, err := store.BulkUpsert(context.Background(), []docstore.Document{doc}); err != nil {
		t.Fatalf("seeding account: %v", err)
	}
}

// putSnapshot stores a gzipped config snapshot under the delivery layout for
// the given day.
func putSnapshot(t *testing.T, s3 *mock.S3, year, month, day int, items []docstore.Document) string {
	t.Helper()
	key := fmt.Sprintf("AWSLogs/%s/Config/%s/%d/%d/%d/ConfigSnapshot-1.json.gz",
		memberAccount, region, year, month, day)
	err := s3.PutGzippedJSON(bucket, key, map[string]any{
		"fileVersion":        "1.0",
		"configurationItems": items,
	})
	if err != nil {
		t.Fatalf("storing snapshot object: %v", err)
	}
	return key
}

func snapshotItems() []docstore.Document {
	return []docstore.Document{
		{
			"resourceType": "AWS::EC2::Instance",
			"resourceId":   "i-1",
			"ARN":          "arn:aws:ec2:" + region + ":" + memberAccount + ":instance/i-1",
		},
		{
			"resourceType": "AWS::S3::Bucket",
			"resourceId":   "data-bucket",
			"ARN":          "arn:aws:s3:::data-bucket",
		},
	}
}

func TestIngestLoadsSnapshot(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")
	key := putSnapshot(t, factory.ObjectStore, 2020, 4, 1, snapshotItems())

	service, m := newService(factory, store)
	results := service.Ingest(context.Background(), "", "")

	// One result for us-east-1; the global region has no config state and is
	// not considered.
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1: %+v", len(results), results)
	}
	r := results[0]
	if r.Status != snapshot.StatusIngested || r.Err != nil {
		t.Fatalf("result = %+v", r)
	}
	if r.AccountID != memberAccount || r.Region != region || r.ItemsWritten != 2 {
		t.Errorf("result = %+v", r)
	}

	if n := store.Count("awsec2instance"); n != 1 {
		t.Errorf("awsec2instance has %d documents, want 1", n)
	}
	if n := store.Count("awss3bucket"); n != 1 {
		t.Errorf("awss3bucket has %d documents, want 1", n)
	}

	records := service.Get(context.Background(), memberAccount, region)
	if len(records) != 1 {
		t.Fatalf("got %d snapshot records, want 1", len(records))
	}
	record := records[0]
	if record.String("lastSuccessfulTime") != "2020-04-01T12:00:00Z" {
		t.Errorf("lastSuccessfulTime = %q", record.String("lastSuccessfulTime"))
	}
	if record.String("masterAccountId") != masterAccount {
		t.Errorf("masterAccountId = %q", record.String("masterAccountId"))
	}
	if record.String("resourceId") != key {
		t.Errorf("resourceId = %q, want the object key %q", record.String("resourceId"), key)
	}

	report := m.GenerateReport()
	if report.SnapshotsLoaded != 1 || report.SnapshotsSkipped != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestIngestSkipsAlreadyProcessed(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")
	putSnapshot(t, factory.ObjectStore, 2020, 4, 1, snapshotItems())

	service, m := newService(factory, store)
	ctx := context.Background()

	if results := service.Ingest(ctx, "", ""); results[0].Status != snapshot.StatusIngested {
		t.Fatalf("first ingest = %+v", results[0])
	}

	results := service.Ingest(ctx, "", "")
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Status != snapshot.StatusSkipped {
		t.Fatalf("second ingest = %+v, want skipped", results[0])
	}
	if !errors.Is(results[0].Err, snapshot.ErrAlreadyProcessed) {
		t.Errorf("error = %v, want ErrAlreadyProcessed", results[0].Err)
	}

	report := m.GenerateReport()
	if report.SnapshotsLoaded != 1 || report.SnapshotsSkipped != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestIngestDedupIgnoresTimezoneSpelling(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")
	putSnapshot(t, factory.ObjectStore, 2020, 4, 1, snapshotItems())

	service, _ := newService(factory, store)
	ctx := context.Background()
	if results := service.Ingest(ctx, "", ""); results[0].Status != snapshot.StatusIngested {
		t.Fatalf("first ingest = %+v", results[0])
	}

	// Same instant, different offset spelling: still a duplicate.
	seedAccount(t, store, "2020-04-01T14:00:00+02:00")
	results := service.Ingest(ctx, "", "")
	if results[0].Status != snapshot.StatusSkipped {
		t.Errorf("ingest after timezone respelling = %+v, want skipped", results[0])
	}
}

func TestIngestNewDeliveryReplacesRecord(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")
	putSnapshot(t, factory.ObjectStore, 2020, 4, 1, snapshotItems())

	service, _ := newService(factory, store)
	ctx := context.Background()
	if results := service.Ingest(ctx, "", ""); results[0].Status != snapshot.StatusIngested {
		t.Fatalf("first ingest = %+v", results[0])
	}

	seedAccount(t, store, "2020-04-02T12:00:00Z")
	newKey := putSnapshot(t, factory.ObjectStore, 2020, 4, 2, snapshotItems())

	results := service.Ingest(ctx, "", "")
	if results[0].Status != snapshot.StatusIngested {
		t.Fatalf("ingest of newer delivery = %+v", results[0])
	}

	// The record's identity is the account-region pair, so the newer ingest
	// replaces the old record instead of adding one.
	if n := store.Count(snapshot.IndexName); n != 1 {
		t.Errorf("stored %d snapshot records, want 1", n)
	}
	record := service.Get(ctx, memberAccount, region)[0]
	if record.String("resourceId") != newKey {
		t.Errorf("record points at %q, want %q", record.String("resourceId"), newKey)
	}
}

func TestIngestMissingDeliveryInformation(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "") // channel present, no successful delivery yet

	service, _ := newService(factory, store)
	results := service.Ingest(context.Background(), "", "")
	if len(results) != 1 || results[0].Status != snapshot.StatusFailed {
		t.Fatalf("results = %+v, want one failure", results)
	}
	if n := store.Count(snapshot.IndexName); n != 0 {
		t.Errorf("stored %d records for a failed ingest, want 0", n)
	}
}

func TestIngestMissingObject(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")
	// No object in the bucket.

	service, _ := newService(factory, store)
	results := service.Ingest(context.Background(), "", "")
	if len(results) != 1 || results[0].Status != snapshot.StatusFailed {
		t.Fatalf("results = %+v, want one failure", results)
	}
}

func TestIngestRegionFilter(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")

	service, _ := newService(factory, store)
	if results := service.Ingest(context.Background(), memberAccount, "eu-west-1"); len(results) != 0 {
		t.Errorf("results = %+v, want none for a region the account lacks", results)
	}
}

func TestDeliver(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")
	factory.ConfigStates.Set(memberAccount, region, &mock.ConfigState{NextSnapshotID: "snap-123"})

	service, _ := newService(factory, store)
	deliveries := service.Deliver(context.Background(), "", "")

	if len(deliveries) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(deliveries))
	}
	d := deliveries[0]
	if d.AccountID != memberAccount || d.Region != region || d.SnapshotID != "snap-123" {
		t.Errorf("delivery = %+v", d)
	}
	if n := factory.ConfigStates.Get(memberAccount, region).DeliverRequests; n != 1 {
		t.Errorf("DeliverConfigSnapshot called %d times, want 1", n)
	}
}

func TestDeliverFailureOmitted(t *testing.T) {
	factory := mock.NewFactory(masterAccount)
	store := mock.NewDocStore()
	seedAccount(t, store, "2020-04-01T12:00:00Z")
	factory.ConfigStates.Set(memberAccount, region, &mock.ConfigState{
		DeliverErr: errors.New("InsufficientDeliveryPolicyException"),
	})

	service, _ := newService(factory, store)
	if deliveries := service.Deliver(context.Background(), "", ""); len(deliveries) != 0 {
		t.Errorf("deliveries = %+v, want none when the request fails", deliveries)
	}
}
