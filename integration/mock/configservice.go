package mock

import (
	"context"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	cfgtypes "github.com/aws/aws-sdk-go-v2/service/configservice/types"
)

// ConfigState is the canned AWS Config footprint of one account-region pair.
type ConfigState struct {
	Recorders       []cfgtypes.ConfigurationRecorder
	RecorderStatus  []cfgtypes.ConfigurationRecorderStatus
	Channels        []cfgtypes.DeliveryChannel
	ChannelStatus   []cfgtypes.DeliveryChannelStatus
	DescribeErr     error  // returned by every describe call when set
	DeliverErr      error  // returned by DeliverConfigSnapshot when set
	NextSnapshotID  string // returned by DeliverConfigSnapshot
	DeliverRequests int    // counts DeliverConfigSnapshot calls
}

// ConfigServiceStates holds the footprints for all account-region pairs,
// keyed by "<account>/<region>".
type ConfigServiceStates struct {
	mu     sync.Mutex
	states map[string]*ConfigState
}

// NewConfigServiceStates creates an empty state table.
func NewConfigServiceStates() *ConfigServiceStates {
	return &ConfigServiceStates{states: make(map[string]*ConfigState)}
}

// Set registers the footprint for an account-region pair.
func (s *ConfigServiceStates) Set(accountID, region string, state *ConfigState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[accountID+"/"+region] = state
}

// Get returns the footprint for an account-region pair, or nil.
func (s *ConfigServiceStates) Get(accountID, region string) *ConfigState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[accountID+"/"+region]
}

// ConfigService is a mock Config client bound to one account-region pair.
type ConfigService struct {
	AccountID string
	Region    string
	States    *ConfigServiceStates
}

func (m *ConfigService) state() *ConfigState {
	return m.States.Get(m.AccountID, m.Region)
}

// DescribeConfigurationRecorders implements aws.ConfigServiceClient.
func (m *ConfigService) DescribeConfigurationRecorders(ctx context.Context, params *configservice.DescribeConfigurationRecordersInput, optFns ...func(*configservice.Options)) (*configservice.DescribeConfigurationRecordersOutput, error) {
	state := m.state()
	if state == nil {
		return &configservice.DescribeConfigurationRecordersOutput{}, nil
	}
	if state.DescribeErr != nil {
		return nil, state.DescribeErr
	}
	return &configservice.DescribeConfigurationRecordersOutput{ConfigurationRecorders: state.Recorders}, nil
}

// DescribeConfigurationRecorderStatus implements aws.ConfigServiceClient.
func (m *ConfigService) DescribeConfigurationRecorderStatus(ctx context.Context, params *configservice.DescribeConfigurationRecorderStatusInput, optFns ...func(*configservice.Options)) (*configservice.DescribeConfigurationRecorderStatusOutput, error) {
	state := m.state()
	if state == nil {
		return &configservice.DescribeConfigurationRecorderStatusOutput{}, nil
	}
	if state.DescribeErr != nil {
		return nil, state.DescribeErr
	}
	return &configservice.DescribeConfigurationRecorderStatusOutput{ConfigurationRecordersStatus: state.RecorderStatus}, nil
}

// DescribeDeliveryChannels implements aws.ConfigServiceClient.
func (m *ConfigService) DescribeDeliveryChannels(ctx context.Context, params *configservice.DescribeDeliveryChannelsInput, optFns ...func(*configservice.Options)) (*configservice.DescribeDeliveryChannelsOutput, error) {
	state := m.state()
	if state == nil {
		return &configservice.DescribeDeliveryChannelsOutput{}, nil
	}
	if state.DescribeErr != nil {
		return nil, state.DescribeErr
	}
	return &configservice.DescribeDeliveryChannelsOutput{DeliveryChannels: state.Channels}, nil
}

// DescribeDeliveryChannelStatus implements aws.ConfigServiceClient.
func (m *ConfigService) DescribeDeliveryChannelStatus(ctx context.Context, params *configservice.DescribeDeliveryChannelStatusInput, optFns ...func(*configservice.Options)) (*configservice.DescribeDeliveryChannelStatusOutput, error) {
	state := m.state()
	if state == nil {
		return &configservice.DescribeDeliveryChannelStatusOutput{}, nil
	}
	if state.DescribeErr != nil {
		return nil, state.DescribeErr
	}
	return &configservice.DescribeDeliveryChannelStatusOutput{DeliveryChannelsStatus: state.ChannelStatus}, nil
}

// DeliverConfigSnapshot implements aws.ConfigServiceClient.
func (m *ConfigService) DeliverConfigSnapshot(ctx context.Context, params *configservice.DeliverConfigSnapshotInput, optFns ...func(*configservice.Options)) (*configservice.DeliverConfigSnapshotOutput, error) {
	state := m.state()
	if state == nil {
		return nil, fmt.Errorf("no delivery channel in %s/%s", m.AccountID, m.Region)
	}
	m.States.mu.Lock()
	state.DeliverRequests++
	m.States.mu.Unlock()
	if state.DeliverErr != nil {
		return nil, state.DeliverErr
	}
	return &configservice.DeliverConfigSnapshotOutput{
		ConfigSnapshotId: awssdk.String(state.NextSnapshotID),
	}, nil
}
