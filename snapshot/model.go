package snapshot

import (
	"github.com/openraven/aws-config-discovery/docstore"
)

// ResourceType stamped on snapshot records; the lower-cased form is their
// index.
const ResourceType = "AWSConfigSnapshot"

// IndexName is the store index for snapshot records.
var IndexName = docstore.IndexName(ResourceType)

// Record documents one ingested snapshot for an account-region pair. Its
// lastSuccessfulTime is what the dedup check compares on the next run; its
// ARN is synthetic, so each account-region pair owns exactly one record that
// later ingests replace.
type Record struct {
	AWSAccountID        string `json:"awsAccountId"`
	AWSRegion           string `json:"awsRegion"`
	MasterAccountID     string `json:"masterAccountId,omitempty"`
	DeliveryChannelName string `json:"deliveryChannelName,omitempty"`
	S3BucketName        string `json:"s3BucketName,omitempty"`
	LastSuccessfulTime  string `json:"lastSuccessfulTime"`
	ItemsWritten        int    `json:"itemsWritten"`

	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`
	ARN          string `json:"arn"`
}

// Status classifies the outcome for one account-region pair of an ingest
// run.
type Status string

const (
	StatusIngested Status = "ingested"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Result is the per-item outcome of an ingest run. Failures are carried
// here, not raised: one bad account-region pair never aborts the batch.
type Result struct {
	AccountID    string
	Region       string
	Status       Status
	ItemsWritten int
	Err          error
}

// Delivery records one accepted on-demand snapshot delivery request.
type Delivery struct {
	AccountID  string `json:"awsAccountId"`
	Region     string `json:"awsRegionId"`
	SnapshotID string `json:"configSnapshotId"`
}
