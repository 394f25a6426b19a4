// Package configinfo enriches every discovered account with its per-region
// AWS Config footprint and persists account and region documents. Discovery
// re-reads the persisted organization tree, so an organization crawl must
// have completed first.
package configinfo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"go.uber.org/zap"

	"github.com/openraven/aws-config-discovery/aws"
	"github.com/openraven/aws-config-discovery/credentials"
	"github.com/openraven/aws-config-discovery/docstore"
	"github.com/openraven/aws-config-discovery/metrics"
	"github.com/openraven/aws-config-discovery/organization"
)

// ErrMissingConfiguration is returned when an account-region pair has no AWS
// Config footprint at all: no recorder, no recorder status, no delivery
// channel, no channel status. This is a benign state, distinct from an
// authorization failure, and is skipped quietly.
var ErrMissingConfiguration = errors.New("discovery: config service information missing")

// scanLimit caps unfiltered account reads from the store.
const scanLimit = 1000

// Service discovers and serves per-account Config service state.
type Service struct {
	factory aws.ClientFactory
	broker  credentials.Broker
	store   docstore.Store
	org     *organization.Service
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewService creates a configinfo service.
func NewService(factory aws.ClientFactory, broker credentials.Broker, store docstore.Store, org *organization.Service, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{factory: factory, broker: broker, store: store, org: org, log: log, metrics: m}
}

// Get returns stored account documents, filtered to one account when
// accountID is non-empty.
func (s *Service) Get(ctx context.Context, accountID string) []docstore.Document {
	if accountID != "" {
		return s.store.Query(ctx, AccountIndexName, map[string]string{docstore.FieldAccountID: accountID}, 1)
	}
	return s.store.Query(ctx, AccountIndexName, nil, scanLimit)
}

// Discover walks the persisted organization tree and, for every account
// (or just the one named by accountID), collects region and Config state
// under a delegated session, then upserts account and region documents. A
// failing account is logged and omitted; the crawl continues.
func (s *Service) Discover(ctx context.Context, accountID string) ([]docstore.Document, error) {
	orgDoc, err := s.org.Get(ctx)
	if err != nil {
		return nil, err
	}
	org, err := organization.Decode(orgDoc)
	if err != nil {
		return nil, fmt.Errorf("decoding organization document: %w", err)
	}

	// Work list over the stored tree; child units are appended as their
	// parent is processed, so every unit is handled exactly once.
	queue := make([]*organization.Unit, len(org.Roots))
	copy(queue, org.Roots)

	for len(queue) > 0 {
		unit := queue[0]
		queue = queue[1:]
		queue = append(queue, unit.OrganizationalUnits...)

		var accounts []Account
		for _, a := range unit.Accounts {
			if accountID != "" && a.ID != accountID {
				continue
			}
			acct, ok := s.discoverAccount(ctx, a, org.MasterAccountID, org.MasterAccountARN)
			if !ok {
				continue
			}
			accounts = append(accounts, acct)
		}

		if len(accounts) > 0 {
			if err := s.writeAccountDocuments(ctx, accounts); err != nil {
				return nil, err
			}
		}
	}

	return s.Get(ctx, accountID), nil
}

// discoverAccount collects one account's regions and per-region Config state.
// Returns ok=false when the account must be omitted (session or region
// enumeration failed).
func (s *Service) discoverAccount(ctx context.Context, a organization.Account, masterID, masterARN string) (Account, bool) {
	acct := Account{
		Account:          a,
		MasterAccountID:  masterID,
		MasterAccountARN: masterARN,
		Regions:          []Region{},
	}

	session, err := s.broker.AccountSession(ctx, a.ID)
	if err != nil {
		s.metrics.RecordError()
		s.log.Warn("skipping account",
			zap.String("account", a.ID),
			zap.String("masterAccountId", masterID),
			zap.Error(err))
		return Account{}, false
	}
	defer session.Release()

	regionIDs, err := s.enumerateRegions(ctx, session)
	if err != nil {
		s.metrics.RecordError()
		s.log.Warn("failed enumerating regions, skipping account",
			zap.String("account", a.ID),
			zap.String("masterAccountId", masterID),
			zap.Error(err))
		return Account{}, false
	}

	for _, regionID := range regionIDs {
		state, err := s.DiscoverConfigState(ctx, s.factory.ConfigService(session, regionID))
		if errors.Is(err, ErrMissingConfiguration) {
			s.log.Debug("no config service footprint",
				zap.String("account", a.ID),
				zap.String("region", regionID))
			continue
		}
		if err != nil {
			s.metrics.RecordError()
			s.log.Warn("failed collecting config state",
				zap.String("account", a.ID),
				zap.String("masterAccountId", masterID),
				zap.String("region", regionID),
				zap.Error(err))
			continue
		}
		acct.Regions = append(acct.Regions, Region{
			ID:                 regionID,
			Description:        regionDescription(regionID),
			ConfigServiceState: state,
		})
		s.metrics.RecordRegion()
	}

	// The synthetic global region exists on every account, whatever the
	// provider enumerated.
	acct.Regions = append(acct.Regions, Region{
		ID:          GlobalRegionID,
		Description: regionDescription(GlobalRegionID),
	})

	s.metrics.RecordAccount()
	return acct, true
}

func (s *Service) enumerateRegions(ctx context.Context, session *credentials.Session) ([]string, error) {
	out, err := s.factory.EC2(session, aws.GlobalRegion).DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("describing regions: %w", err)
	}
	ids := make([]string, 0, len(out.Regions))
	for _, region := range out.Regions {
		if region.RegionName != nil {
			ids = append(ids, *region.RegionName)
		}
	}
	return ids, nil
}

// DiscoverConfigState queries one account-region's Config footprint: first
// recorder, its status, first delivery channel, its status. Absence of any
// single piece is fine; absence of all four is ErrMissingConfiguration.
func (s *Service) DiscoverConfigState(ctx context.Context, client aws.ConfigServiceClient) (*ConfigServiceState, error) {
	state := &ConfigServiceState{}

	recorders, err := client.DescribeConfigurationRecorders(ctx, &configservice.DescribeConfigurationRecordersInput{})
	if err != nil {
		return nil, fmt.Errorf("describing configuration recorders: %w", err)
	}
	if len(recorders.ConfigurationRecorders) > 0 {
		state.Recorder = recorderFromSDK(recorders.ConfigurationRecorders[0])
	}

	statuses, err := client.DescribeConfigurationRecorderStatus(ctx, &configservice.DescribeConfigurationRecorderStatusInput{})
	if err != nil {
		return nil, fmt.Errorf("describing recorder status: %w", err)
	}
	if len(statuses.ConfigurationRecordersStatus) > 0 {
		state.RecorderStatus = recorderStatusFromSDK(statuses.ConfigurationRecordersStatus[0])
	}

	channels, err := client.DescribeDeliveryChannels(ctx, &configservice.DescribeDeliveryChannelsInput{})
	if err != nil {
		return nil, fmt.Errorf("describing delivery channels: %w", err)
	}
	if len(channels.DeliveryChannels) > 0 {
		state.DeliveryChannel = deliveryChannelFromSDK(channels.DeliveryChannels[0])
	}

	channelStatuses, err := client.DescribeDeliveryChannelStatus(ctx, &configservice.DescribeDeliveryChannelStatusInput{})
	if err != nil {
		return nil, fmt.Errorf("describing delivery channel status: %w", err)
	}
	if len(channelStatuses.DeliveryChannelsStatus) > 0 {
		state.DeliveryChannelStatus = deliveryChannelStatusFromSDK(channelStatuses.DeliveryChannelsStatus[0])
	}

	if state.Recorder == nil && state.RecorderStatus == nil &&
		state.DeliveryChannel == nil && state.DeliveryChannelStatus == nil {
		return nil, ErrMissingConfiguration
	}
	return state, nil
}

// writeAccountDocuments upserts one batch: each account document plus a flat
// region document per region, the synthetic global region included.
func (s *Service) writeAccountDocuments(ctx context.Context, accounts []Account) error {
	var docs []docstore.Document
	for i := range accounts {
		acct := &accounts[i]
		acct.AWSAccountID = acct.ID
		acct.ResourceID = acct.ID
		acct.ResourceName = acct.Name
		acct.ResourceType = AccountResourceType

		for _, region := range acct.Regions {
			regionDoc, err := docstore.ToDocument(regionDocument{
				AWSAccountID: acct.ID,
				ResourceID:   region.ID,
				ResourceType: RegionResourceType,
				ResourceName: region.Description,
				ARN:          fmt.Sprintf("arn:aws:organizations:%s:%s", region.ID, acct.ID),
				AWSRegion:    region.ID,
			})
			if err != nil {
				return err
			}
			docs = append(docs, regionDoc)
		}

		acctDoc, err := docstore.ToDocument(acct)
		if err != nil {
			return err
		}
		docs = append(docs, acctDoc)
	}

	result, err := s.store.BulkUpsert(ctx, docs)
	if err != nil {
		return fmt.Errorf("writing account documents: %w", err)
	}
	s.metrics.RecordDocuments(result.Written())
	return nil
}
