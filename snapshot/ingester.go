// Package snapshot detects, fetches, and indexes point-in-time AWS Config
// snapshots. A snapshot is ingested only when its delivery timestamp differs
// from the one recorded on the previous ingest for that account-region pair,
// so re-running the pipeline converges instead of re-loading.
package snapshot

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/openraven/aws-config-discovery/aws"
	"github.com/openraven/aws-config-discovery/configinfo"
	"github.com/openraven/aws-config-discovery/credentials"
	"github.com/openraven/aws-config-discovery/docstore"
	"github.com/openraven/aws-config-discovery/metrics"
)

// ErrAlreadyProcessed signals the dedup check matched: the snapshot at that
// delivery timestamp has been ingested before. A skip, not a failure.
var ErrAlreadyProcessed = errors.New("discovery: snapshot already processed")

// snapshotPrefixTemplate is the delivery layout AWS Config writes snapshots
// under: account id, region, then non-zero-padded year/month/day.
const snapshotPrefixTemplate = "AWSLogs/%s/Config/%s/%d/%d/%d/ConfigSnapshot"

// scanLimit caps unfiltered record reads from the store.
const scanLimit = 1000

// Service ingests and serves configuration snapshots.
type Service struct {
	factory aws.ClientFactory
	broker  credentials.Broker
	store   docstore.Store
	config  *configinfo.Service
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a snapshot service.
func NewService(factory aws.ClientFactory, broker credentials.Broker, store docstore.Store, config *configinfo.Service, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{factory: factory, broker: broker, store: store, config: config, log: log, metrics: m}
}

// Get returns stored snapshot records. Both filters given narrows to the one
// account-region record; either alone broadens to that dimension.
func (s *Service) Get(ctx context.Context, accountID, regionID string) []docstore.Document {
	switch {
	case accountID != "" && regionID != "":
		return s.store.Query(ctx, IndexName, map[string]string{
			docstore.FieldAccountID: accountID,
			"awsRegion":             regionID,
		}, 1)
	case accountID != "":
		return s.store.Query(ctx, IndexName, map[string]string{docstore.FieldAccountID: accountID}, scanLimit)
	case regionID != "":
		return s.store.Query(ctx, IndexName, map[string]string{"awsRegion": regionID}, scanLimit)
	default:
		return s.store.Query(ctx, IndexName, nil, scanLimit)
	}
}

// Ingest checks every matching account-region pair for a snapshot newer than
// the last ingested one and loads it when found. Returns one Result per pair
// considered; per-pair failures are contained there.
func (s *Service) Ingest(ctx context.Context, accountID, regionID string) []Result {
	var results []Result

	for _, doc := range s.config.Get(ctx, accountID) {
		acct, err := configinfo.DecodeAccount(doc)
		if err != nil {
			s.log.Warn("skipping malformed account document", zap.Error(err))
			continue
		}
		if accountID != "" && acct.AWSAccountID != accountID {
			continue
		}

		prior := s.priorRecords(ctx, acct.AWSAccountID)

		for _, region := range acct.Regions {
			if regionID != "" && region.ID != regionID {
				continue
			}
			if region.ConfigServiceState == nil {
				// Nothing deliverable for this region; the synthetic
				// global region always lands here.
				continue
			}
			results = append(results, s.processRegion(ctx, acct, region, prior[region.ID]))
		}
	}

	return results
}

// priorRecords returns the stored snapshot record per region for one account.
func (s *Service) priorRecords(ctx context.Context, accountID string) map[string]docstore.Document {
	records := make(map[string]docstore.Document)
	for _, doc := range s.store.Query(ctx, IndexName, map[string]string{docstore.FieldAccountID: accountID}, scanLimit) {
		if region := doc.String("awsRegion"); region != "" {
			records[region] = doc
		}
	}
	return records
}

func (s *Service) processRegion(ctx context.Context, acct configinfo.Account, region configinfo.Region, prior docstore.Document) Result {
	result := Result{AccountID: acct.AWSAccountID, Region: region.ID}

	bucket := ""
	channelName := ""
	if region.DeliveryChannel != nil {
		bucket = region.DeliveryChannel.S3BucketName
		channelName = region.DeliveryChannel.Name
	}
	lastSuccessful := ""
	if region.DeliveryChannelStatus != nil && region.DeliveryChannelStatus.ConfigSnapshotDeliveryInfo != nil {
		lastSuccessful = region.DeliveryChannelStatus.ConfigSnapshotDeliveryInfo.LastSuccessfulTime
	}

	if bucket == "" || lastSuccessful == "" {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("missing snapshot information, bucket %q, lastSuccessfulTime %q", bucket, lastSuccessful)
		s.metrics.RecordError()
		s.log.Warn("missing snapshot information",
			zap.String("account", acct.AWSAccountID),
			zap.String("region", region.ID),
			zap.String("bucket", bucket),
			zap.String("lastSuccessfulTime", lastSuccessful))
		return result
	}

	deliveredAt, err := time.Parse(time.RFC3339, lastSuccessful)
	if err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("parsing delivery timestamp %q: %w", lastSuccessful, err)
		s.metrics.RecordError()
		s.log.Warn("unparseable delivery timestamp",
			zap.String("account", acct.AWSAccountID),
			zap.String("region", region.ID),
			zap.Error(err))
		return result
	}

	// Dedup on the delivery instant. Comparison happens on parsed times, not
	// raw strings, so differing timezone spellings of the same instant still
	// match.
	if prior != nil {
		if previous, err := time.Parse(time.RFC3339, prior.String("lastSuccessfulTime")); err == nil && previous.Equal(deliveredAt) {
			result.Status = StatusSkipped
			result.Err = ErrAlreadyProcessed
			s.metrics.RecordSnapshotSkipped()
			s.log.Info("snapshot already processed",
				zap.String("account", acct.AWSAccountID),
				zap.String("region", region.ID),
				zap.Time("deliveredAt", deliveredAt))
			return result
		}
	}

	record := Record{
		AWSAccountID:        acct.AWSAccountID,
		AWSRegion:           region.ID,
		MasterAccountID:     acct.MasterAccountID,
		DeliveryChannelName: channelName,
		S3BucketName:        bucket,
		LastSuccessfulTime:  deliveredAt.UTC().Format(time.RFC3339),
		ResourceType:        ResourceType,
		ARN:                 fmt.Sprintf("urn:openraven:aws:%s:%s:mimir/snapshot", region.ID, acct.AWSAccountID),
	}

	written, key, err := s.loadSnapshot(ctx, acct.AWSAccountID, region.ID, bucket, deliveredAt)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		s.metrics.RecordError()
		s.log.Warn("snapshot ingest failed",
			zap.String("account", acct.AWSAccountID),
			zap.String("region", region.ID),
			zap.Error(err))
		return result
	}

	record.ItemsWritten = written
	record.ResourceID = key

	recordDoc, err := docstore.ToDocument(record)
	if err == nil {
		_, err = s.store.BulkUpsert(ctx, []docstore.Document{recordDoc})
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("writing snapshot record: %w", err)
		s.metrics.RecordError()
		return result
	}

	result.Status = StatusIngested
	result.ItemsWritten = written
	s.metrics.RecordSnapshotLoaded()
	return result
}

// loadSnapshot fetches the first snapshot object for the delivery day,
// decompresses it, and bulk-loads its configuration items. Returns the count
// of items written and the object key.
func (s *Service) loadSnapshot(ctx context.Context, accountID, regionID, bucket string, deliveredAt time.Time) (int, string, error) {
	session, err := s.broker.AccountSession(ctx, accountID)
	if err != nil {
		return 0, "", err
	}
	defer session.Release()

	client := s.factory.S3(session, regionID)

	prefix := fmt.Sprintf(snapshotPrefixTemplate,
		accountID, regionID, deliveredAt.Year(), int(deliveredAt.Month()), deliveredAt.Day())

	listed, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  awssdk.String(bucket),
		Prefix:  awssdk.String(prefix),
		MaxKeys: awssdk.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("listing snapshot objects under %s: %w", prefix, err)
	}
	if len(listed.Contents) == 0 {
		return 0, "", fmt.Errorf("no snapshot object under prefix %s", prefix)
	}
	key := awssdk.ToString(listed.Contents[0].Key)

	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return 0, "", fmt.Errorf("fetching snapshot object %s: %w", key, err)
	}
	defer obj.Body.Close()

	gz, err := gzip.NewReader(obj.Body)
	if err != nil {
		return 0, "", fmt.Errorf("decompressing snapshot %s: %w", key, err)
	}
	defer gz.Close()

	var parsed struct {
		ConfigurationItems []docstore.Document `json:"configurationItems"`
	}
	if err := json.NewDecoder(gz).Decode(&parsed); err != nil {
		return 0, "", fmt.Errorf("decoding snapshot %s: %w", key, err)
	}

	result, err := s.store.BulkUpsert(ctx, parsed.ConfigurationItems)
	if err != nil {
		return 0, "", fmt.Errorf("writing configuration items from %s: %w", key, err)
	}
	s.metrics.RecordDocuments(result.Written())

	return result.Written(), key, nil
}

// Deliver asks the provider to generate a fresh snapshot for every matching
// account-region pair that has a delivery channel. Fire-and-forget: a failed
// request is logged and omitted; nothing waits for the delivery, a later
// Ingest picks it up.
func (s *Service) Deliver(ctx context.Context, accountID, regionID string) []Delivery {
	var deliveries []Delivery

	for _, doc := range s.config.Get(ctx, accountID) {
		acct, err := configinfo.DecodeAccount(doc)
		if err != nil {
			s.log.Warn("skipping malformed account document", zap.Error(err))
			continue
		}
		if accountID != "" && acct.AWSAccountID != accountID {
			continue
		}

		for _, region := range acct.Regions {
			if regionID != "" && region.ID != regionID {
				continue
			}
			if region.ConfigServiceState == nil || region.DeliveryChannel == nil || region.DeliveryChannel.Name == "" {
				continue
			}
			snapshotID, ok := s.requestDelivery(ctx, acct, region.ID, region.DeliveryChannel.Name)
			if !ok {
				continue
			}
			deliveries = append(deliveries, Delivery{
				AccountID:  acct.AWSAccountID,
				Region:     region.ID,
				SnapshotID: snapshotID,
			})
		}
	}

	return deliveries
}

func (s *Service) requestDelivery(ctx context.Context, acct configinfo.Account, regionID, channelName string) (string, bool) {
	session, err := s.broker.AccountSession(ctx, acct.AWSAccountID)
	if err != nil {
		s.log.Warn("failed to deliver snapshot",
			zap.String("account", acct.AWSAccountID),
			zap.String("region", regionID),
			zap.String("deliveryChannel", channelName),
			zap.String("masterAccountId", acct.MasterAccountID),
			zap.Error(err))
		return "", false
	}
	defer session.Release()

	out, err := s.factory.ConfigService(session, regionID).DeliverConfigSnapshot(ctx, &configservice.DeliverConfigSnapshotInput{
		DeliveryChannelName: awssdk.String(channelName),
	})
	if err != nil {
		s.log.Warn("failed to deliver snapshot",
			zap.String("account", acct.AWSAccountID),
			zap.String("region", regionID),
			zap.String("deliveryChannel", channelName),
			zap.String("masterAccountId", acct.MasterAccountID),
			zap.Error(err))
		return "", false
	}

	return awssdk.ToString(out.ConfigSnapshotId), true
}
