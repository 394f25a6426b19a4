package organization

import (
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"

	"github.com/openraven/aws-config-discovery/docstore"
)

// ResourceType is the resourceType stamped on organization documents; the
// lower-cased form is the index they live in.
const ResourceType = "AWSOrganization"

// IndexName is the store index for organization documents.
var IndexName = docstore.IndexName(ResourceType)

// Organization is the root document of a discovered organization: its own
// attributes plus the full unit/account tree under roots.
type Organization struct {
	ID                 string  `json:"id"`
	ARN                string  `json:"arn"`
	FeatureSet         string  `json:"featureSet,omitempty"`
	MasterAccountID    string  `json:"masterAccountId"`
	MasterAccountARN   string  `json:"masterAccountArn"`
	MasterAccountEmail string  `json:"masterAccountEmail,omitempty"`
	Roots              []*Unit `json:"roots"`

	AWSAccountID string `json:"awsAccountId"`
	ResourceID   string `json:"resourceId"`
	ResourceType string `json:"resourceType"`
}

// Unit is one node of the organization tree: a root or an organizational
// unit. Child units and accounts are owned; there is no stored back-reference
// to the parent.
type Unit struct {
	ID                  string    `json:"id"`
	ARN                 string    `json:"arn,omitempty"`
	Name                string    `json:"name,omitempty"`
	OrganizationalUnits []*Unit   `json:"organizationalUnits"`
	Accounts            []Account `json:"accounts"`
}

// Account is a member account as the directory describes it.
type Account struct {
	ID              string `json:"id"`
	ARN             string `json:"arn,omitempty"`
	Email           string `json:"email,omitempty"`
	Name            string `json:"name,omitempty"`
	Status          string `json:"status,omitempty"`
	JoinedMethod    string `json:"joinedMethod,omitempty"`
	JoinedTimestamp string `json:"joinedTimestamp,omitempty"`
}

func accountFromSDK(a orgtypes.Account) Account {
	acct := Account{
		ID:           awssdk.ToString(a.Id),
		ARN:          awssdk.ToString(a.Arn),
		Email:        awssdk.ToString(a.Email),
		Name:         awssdk.ToString(a.Name),
		Status:       string(a.Status),
		JoinedMethod: string(a.JoinedMethod),
	}
	if a.JoinedTimestamp != nil {
		acct.JoinedTimestamp = a.JoinedTimestamp.UTC().Format(time.RFC3339)
	}
	return acct
}

// Decode converts a stored organization document back into the typed model.
func Decode(doc docstore.Document) (Organization, error) {
	var org Organization
	err := docstore.FromDocument(doc, &org)
	return org, err
}
