package mock

import (
	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/openraven/aws-config-discovery/aws"
	"github.com/openraven/aws-config-discovery/credentials"
)

// Factory is a mock client factory wiring all the fakes together. Clients
// handed out for a delegated session are scoped to that session's account.
type Factory struct {
	STSClient     *STS
	Orgs          *Organizations
	ConfigStates  *ConfigServiceStates
	ObjectStore   *S3
	Regions       map[string][]string
	RegionFailers map[string]bool
}

// NewFactory creates a factory over a synthetic source account.
func NewFactory(sourceAccount string) *Factory {
	return &Factory{
		STSClient:     NewSTS(sourceAccount),
		Orgs:          NewOrganizations("o-test", ""),
		ConfigStates:  NewConfigServiceStates(),
		ObjectStore:   NewS3(),
		Regions:       make(map[string][]string),
		RegionFailers: make(map[string]bool),
	}
}

// accountOf resolves which account a credentials provider is scoped to. The
// ambient chain (nil provider) maps to the source account.
func (f *Factory) accountOf(creds awssdk.CredentialsProvider) string {
	if session, ok := creds.(*credentials.Session); ok {
		return session.AccountID()
	}
	return f.STSClient.SourceAccount
}

// STS implements aws.ClientFactory.
func (f *Factory) STS() aws.STSClient {
	return f.STSClient
}

// Organizations implements aws.ClientFactory.
func (f *Factory) Organizations(creds awssdk.CredentialsProvider) aws.OrganizationsClient {
	return f.Orgs
}

// ConfigService implements aws.ClientFactory.
func (f *Factory) ConfigService(creds awssdk.CredentialsProvider, region string) aws.ConfigServiceClient {
	return &ConfigService{
		AccountID: f.accountOf(creds),
		Region:    region,
		States:    f.ConfigStates,
	}
}

// EC2 implements aws.ClientFactory.
func (f *Factory) EC2(creds awssdk.CredentialsProvider, region string) aws.EC2Client {
	return &EC2{
		AccountID:        f.accountOf(creds),
		RegionsByAccount: f.Regions,
		FailAccounts:     f.RegionFailers,
	}
}

// S3 implements aws.ClientFactory.
func (f *Factory) S3(creds awssdk.CredentialsProvider, region string) aws.S3Client {
	return f.ObjectStore
}

var _ aws.ClientFactory = (*Factory)(nil)
