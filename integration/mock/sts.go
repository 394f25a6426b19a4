// Package mock provides hand-written fakes for the AWS clients and the
// document store, mirroring just enough provider behavior to run the
// discovery pipeline end to end in tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
)

// STS is a mock STS client. Role assumption succeeds for any account not
// listed in FailAccounts and records every assumed role ARN.
type STS struct {
	mu sync.Mutex

	// SourceAccount is what GetCallerIdentity reports.
	SourceAccount string
	// FailAccounts lists target accounts whose role assumption fails.
	FailAccounts map[string]bool

	// AssumedRoles records every role ARN passed to AssumeRole.
	AssumedRoles []string
	// SessionNames records every role session name passed to AssumeRole.
	SessionNames []string
	// IdentityCalls counts GetCallerIdentity invocations.
	IdentityCalls int
}

// NewSTS creates a mock STS client for the given source account.
func NewSTS(sourceAccount string) *STS {
	return &STS{
		SourceAccount: sourceAccount,
		FailAccounts:  make(map[string]bool),
	}
}

// GetCallerIdentity implements aws.STSClient.
func (m *STS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IdentityCalls++
	return &sts.GetCallerIdentityOutput{
		Account: awssdk.String(m.SourceAccount),
		Arn:     awssdk.String("arn:aws:iam::" + m.SourceAccount + ":user/discovery"),
	}, nil
}

// AssumeRole implements aws.STSClient.
func (m *STS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roleARN := awssdk.ToString(params.RoleArn)
	m.AssumedRoles = append(m.AssumedRoles, roleARN)
	m.SessionNames = append(m.SessionNames, awssdk.ToString(params.RoleSessionName))

	target := accountFromRoleARN(roleARN)
	if m.FailAccounts[target] {
		return nil, fmt.Errorf("AccessDenied: not authorized to assume %s", roleARN)
	}

	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     awssdk.String("AKIA" + target),
			SecretAccessKey: awssdk.String("secret-" + target),
			SessionToken:    awssdk.String("token-" + target),
			Expiration:      awssdk.Time(time.Now().Add(15 * time.Minute)),
		},
	}, nil
}

// accountFromRoleARN extracts the account id from arn:aws:iam::<acct>:role/...
func accountFromRoleARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 5 {
		return ""
	}
	return parts[4]
}
