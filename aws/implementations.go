// This file contains the SDK-backed client factory. Organization crawling and
// per-region Config discovery construct clients on the fly from delegated
// sessions, so the factory takes a credentials provider per call rather than
// holding pre-built clients.
package aws

import (
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// GlobalRegion is the region Organizations and STS calls are issued against.
// Organizations is a global service fronted by us-east-1.
const GlobalRegion = "us-east-1"

// ClientFactory builds service clients scoped to a credentials provider and,
// for regional services, a region. A nil provider means the process's ambient
// credential chain.
type ClientFactory interface {
	STS() STSClient
	Organizations(creds awssdk.CredentialsProvider) OrganizationsClient
	ConfigService(creds awssdk.CredentialsProvider, region string) ConfigServiceClient
	EC2(creds awssdk.CredentialsProvider, region string) EC2Client
	S3(creds awssdk.CredentialsProvider, region string) S3Client
}

// SDKClientFactory implements ClientFactory using the AWS SDK.
type SDKClientFactory struct {
	cfg awssdk.Config
}

// NewSDKClientFactory creates a factory from a base AWS configuration. The
// base configuration supplies the HTTP client, retryer, and ambient
// credentials; per-call overrides swap in delegated credentials and regions.
func NewSDKClientFactory(cfg awssdk.Config) *SDKClientFactory {
	return &SDKClientFactory{cfg: cfg}
}

// STS returns a client bound to the ambient credential chain. The broker uses
// it both for caller identity and to mint delegated sessions.
func (f *SDKClientFactory) STS() STSClient {
	return sts.NewFromConfig(f.cfg, func(o *sts.Options) {
		o.Region = GlobalRegion
	})
}

// Organizations returns a client for the global Organizations endpoint.
func (f *SDKClientFactory) Organizations(creds awssdk.CredentialsProvider) OrganizationsClient {
	return organizations.NewFromConfig(f.cfg, func(o *organizations.Options) {
		o.Region = GlobalRegion
		if creds != nil {
			o.Credentials = creds
		}
	})
}

// ConfigService returns a client for the given region.
func (f *SDKClientFactory) ConfigService(creds awssdk.CredentialsProvider, region string) ConfigServiceClient {
	return configservice.NewFromConfig(f.cfg, func(o *configservice.Options) {
		o.Region = region
		if creds != nil {
			o.Credentials = creds
		}
	})
}

// EC2 returns a client for the given region.
func (f *SDKClientFactory) EC2(creds awssdk.CredentialsProvider, region string) EC2Client {
	return ec2.NewFromConfig(f.cfg, func(o *ec2.Options) {
		o.Region = region
		if creds != nil {
			o.Credentials = creds
		}
	})
}

// S3 returns a client for the given region.
func (f *SDKClientFactory) S3(creds awssdk.CredentialsProvider, region string) S3Client {
	return s3.NewFromConfig(f.cfg, func(o *s3.Options) {
		o.Region = region
		if creds != nil {
			o.Credentials = creds
		}
	})
}
