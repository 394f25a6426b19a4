package configinfo

import (
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	cfgtypes "github.com/aws/aws-sdk-go-v2/service/configservice/types"

	"github.com/openraven/aws-config-discovery/docstore"
	"github.com/openraven/aws-config-discovery/organization"
)

// Resource types stamped on the documents this package writes.
const (
	AccountResourceType = "AWSAccount"
	RegionResourceType  = "AWSRegion"
)

// Index names for the documents this package writes.
var (
	AccountIndexName = docstore.IndexName(AccountResourceType)
	RegionIndexName  = docstore.IndexName(RegionResourceType)
)

// GlobalRegionID is the synthetic region present on every account regardless
// of what the provider enumerates.
const GlobalRegionID = "global"

// Account is the stored account document: the directory's account attributes
// enriched with the master-account denormalization and the per-region Config
// footprint.
type Account struct {
	organization.Account

	MasterAccountID  string   `json:"masterAccountId"`
	MasterAccountARN string   `json:"masterAccountArn"`
	Regions          []Region `json:"regions"`

	AWSAccountID string `json:"awsAccountId"`
	ResourceID   string `json:"resourceId"`
	ResourceName string `json:"resourceName"`
	ResourceType string `json:"resourceType"`
}

// Region is one region entry embedded in an account document. The Config
// service state is inlined when the region has any Config footprint.
type Region struct {
	ID          string `json:"id"`
	Description string `json:"description"`

	*ConfigServiceState
}

// ConfigServiceState is the AWS Config footprint of one account-region pair.
// Each piece is optional; a region with none of the four has Config
// effectively disabled and is not stored at all.
type ConfigServiceState struct {
	Recorder              *Recorder              `json:"recorder,omitempty"`
	RecorderStatus        *RecorderStatus        `json:"recorderStatus,omitempty"`
	DeliveryChannel       *DeliveryChannel       `json:"deliveryChannel,omitempty"`
	DeliveryChannelStatus *DeliveryChannelStatus `json:"deliveryChannelStatus,omitempty"`
}

// Recorder describes a configuration recorder.
type Recorder struct {
	Name           string          `json:"name,omitempty"`
	RoleARN        string          `json:"roleARN,omitempty"`
	RecordingGroup *RecordingGroup `json:"recordingGroup,omitempty"`
}

// RecordingGroup describes what a recorder records.
type RecordingGroup struct {
	AllSupported               bool     `json:"allSupported"`
	IncludeGlobalResourceTypes bool     `json:"includeGlobalResourceTypes"`
	ResourceTypes              []string `json:"resourceTypes,omitempty"`
}

// RecorderStatus is the runtime status of a configuration recorder.
type RecorderStatus struct {
	Name                 string `json:"name,omitempty"`
	Recording            bool   `json:"recording"`
	LastStatus           string `json:"lastStatus,omitempty"`
	LastErrorCode        string `json:"lastErrorCode,omitempty"`
	LastErrorMessage     string `json:"lastErrorMessage,omitempty"`
	LastStartTime        string `json:"lastStartTime,omitempty"`
	LastStopTime         string `json:"lastStopTime,omitempty"`
	LastStatusChangeTime string `json:"lastStatusChangeTime,omitempty"`
}

// DeliveryChannel describes where Config delivers snapshots and history.
type DeliveryChannel struct {
	Name         string `json:"name,omitempty"`
	S3BucketName string `json:"s3BucketName,omitempty"`
	S3KeyPrefix  string `json:"s3KeyPrefix,omitempty"`
	SNSTopicARN  string `json:"snsTopicARN,omitempty"`
}

// DeliveryChannelStatus is the delivery status of a channel.
type DeliveryChannelStatus struct {
	Name                       string        `json:"name,omitempty"`
	ConfigSnapshotDeliveryInfo *DeliveryInfo `json:"configSnapshotDeliveryInfo,omitempty"`
}

// DeliveryInfo records the channel's most recent snapshot delivery. Times
// are RFC 3339 strings; LastSuccessfulTime drives snapshot deduplication.
type DeliveryInfo struct {
	LastStatus         string `json:"lastStatus,omitempty"`
	LastErrorCode      string `json:"lastErrorCode,omitempty"`
	LastErrorMessage   string `json:"lastErrorMessage,omitempty"`
	LastAttemptTime    string `json:"lastAttemptTime,omitempty"`
	LastSuccessfulTime string `json:"lastSuccessfulTime,omitempty"`
}

// regionDocument is the flat per-region companion document written alongside
// each account.
type regionDocument struct {
	AWSAccountID string `json:"awsAccountId"`
	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`
	ResourceName string `json:"resourceName"`
	ARN          string `json:"arn"`
	AWSRegion    string `json:"awsRegion"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func recorderFromSDK(r cfgtypes.ConfigurationRecorder) *Recorder {
	rec := &Recorder{
		Name:    awssdk.ToString(r.Name),
		RoleARN: awssdk.ToString(r.RoleARN),
	}
	if g := r.RecordingGroup; g != nil {
		group := &RecordingGroup{
			AllSupported:               g.AllSupported,
			IncludeGlobalResourceTypes: g.IncludeGlobalResourceTypes,
		}
		for _, rt := range g.ResourceTypes {
			group.ResourceTypes = append(group.ResourceTypes, string(rt))
		}
		rec.RecordingGroup = group
	}
	return rec
}

func recorderStatusFromSDK(s cfgtypes.ConfigurationRecorderStatus) *RecorderStatus {
	return &RecorderStatus{
		Name:                 awssdk.ToString(s.Name),
		Recording:            s.Recording,
		LastStatus:           string(s.LastStatus),
		LastErrorCode:        awssdk.ToString(s.LastErrorCode),
		LastErrorMessage:     awssdk.ToString(s.LastErrorMessage),
		LastStartTime:        formatTime(s.LastStartTime),
		LastStopTime:         formatTime(s.LastStopTime),
		LastStatusChangeTime: formatTime(s.LastStatusChangeTime),
	}
}

func deliveryChannelFromSDK(c cfgtypes.DeliveryChannel) *DeliveryChannel {
	return &DeliveryChannel{
		Name:         awssdk.ToString(c.Name),
		S3BucketName: awssdk.ToString(c.S3BucketName),
		S3KeyPrefix:  awssdk.ToString(c.S3KeyPrefix),
		SNSTopicARN:  awssdk.ToString(c.SnsTopicARN),
	}
}

func deliveryChannelStatusFromSDK(s cfgtypes.DeliveryChannelStatus) *DeliveryChannelStatus {
	status := &DeliveryChannelStatus{Name: awssdk.ToString(s.Name)}
	if info := s.ConfigSnapshotDeliveryInfo; info != nil {
		status.ConfigSnapshotDeliveryInfo = &DeliveryInfo{
			LastStatus:         string(info.LastStatus),
			LastErrorCode:      awssdk.ToString(info.LastErrorCode),
			LastErrorMessage:   awssdk.ToString(info.LastErrorMessage),
			LastAttemptTime:    formatTime(info.LastAttemptTime),
			LastSuccessfulTime: formatTime(info.LastSuccessfulTime),
		}
	}
	return status
}

// DecodeAccount converts a stored account document back into the typed model.
func DecodeAccount(doc docstore.Document) (Account, error) {
	var acct Account
	err := docstore.FromDocument(doc, &acct)
	return acct, err
}
