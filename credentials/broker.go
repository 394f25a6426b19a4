// Package credentials implements the cross-account credential broker. Every
// delegated operation runs under a short-lived STS session obtained by
// assuming a role in the target account; the role name encodes the caller's
// own account id, which is how the trust relationship is pre-provisioned.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/openraven/aws-config-discovery/aws"
)

// Role ARN templates. The first argument is the target account, the second is
// the source (caller) account baked into the provisioned role name.
const (
	memberRoleTemplate = "arn:aws:iam::%s:role/openraven-cross-account-%s"
	masterRoleTemplate = "arn:aws:iam::%s:role/openraven-cross-account-org-%s"
)

// sessionDuration is the fixed lifetime requested for every delegated session.
const sessionDuration = int32(900)

// ErrAssumeRole is returned when role assumption into a target account fails.
// Callers treat this as a per-account failure: log and continue.
var ErrAssumeRole = errors.New("discovery: role assumption failed")

// Broker mints delegated sessions for member accounts and the organization
// master account.
type Broker interface {
	AccountSession(ctx context.Context, accountID string) (*Session, error)
	MasterSession(ctx context.Context, masterAccountID string) (*Session, error)
}

// Session holds the temporary credentials for one account and one purpose.
// It satisfies the SDK credentials provider contract so clients can be built
// directly against it. Release invalidates the credentials; a released
// session fails every subsequent Retrieve.
type Session struct {
	mu        sync.Mutex
	accountID string
	creds     awssdk.Credentials
	released  bool
}

// AccountID returns the account the session is scoped to.
func (s *Session) AccountID() string {
	return s.accountID
}

// Retrieve implements aws.CredentialsProvider.
func (s *Session) Retrieve(ctx context.Context) (awssdk.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return awssdk.Credentials{}, fmt.Errorf("session for account %s already released", s.accountID)
	}
	return s.creds, nil
}

// Release clears the held credentials. Safe to call more than once.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = awssdk.Credentials{}
	s.released = true
}

// STSBroker implements Broker on top of STS. The caller's own account id is
// resolved once, on first use, via GetCallerIdentity.
type STSBroker struct {
	client aws.STSClient
	log    *zap.Logger

	sourceOnce      sync.Once
	sourceAccountID string
	sourceErr       error
}

// NewSTSBroker creates a broker backed by the given STS client.
func NewSTSBroker(client aws.STSClient, log *zap.Logger) *STSBroker {
	return &STSBroker{client: client, log: log}
}

// SourceAccountID resolves and caches the caller's account id.
func (b *STSBroker) SourceAccountID(ctx context.Context) (string, error) {
	b.sourceOnce.Do(func() {
		out, err := b.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			b.sourceErr = fmt.Errorf("resolving caller identity: %w", err)
			return
		}
		b.sourceAccountID = awssdk.ToString(out.Account)
	})
	return b.sourceAccountID, b.sourceErr
}

// AccountSession assumes the member cross-account role in the target account.
func (b *STSBroker) AccountSession(ctx context.Context, accountID string) (*Session, error) {
	source, err := b.SourceAccountID(ctx)
	if err != nil {
		return nil, err
	}
	return b.assume(ctx, accountID, fmt.Sprintf(memberRoleTemplate, accountID, source))
}

// MasterSession assumes the organization cross-account role in the master
// account.
func (b *STSBroker) MasterSession(ctx context.Context, masterAccountID string) (*Session, error) {
	source, err := b.SourceAccountID(ctx)
	if err != nil {
		return nil, err
	}
	return b.assume(ctx, masterAccountID, fmt.Sprintf(masterRoleTemplate, masterAccountID, source))
}

func (b *STSBroker) assume(ctx context.Context, accountID, roleARN string) (*Session, error) {
	out, err := b.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         awssdk.String(roleARN),
		RoleSessionName: awssdk.String("openraven-" + accountID),
		DurationSeconds: awssdk.Int32(sessionDuration),
	})
	if err != nil {
		b.log.Warn("failed to assume role",
			zap.String("account", accountID),
			zap.String("roleArn", roleARN),
			zap.Error(err))
		return nil, fmt.Errorf("%w: account %s: %v", ErrAssumeRole, accountID, err)
	}

	c := out.Credentials
	return &Session{
		accountID: accountID,
		creds: awssdk.Credentials{
			AccessKeyID:     awssdk.ToString(c.AccessKeyId),
			SecretAccessKey: awssdk.ToString(c.SecretAccessKey),
			SessionToken:    awssdk.ToString(c.SessionToken),
			CanExpire:       true,
			Expires:         awssdk.ToTime(c.Expiration),
		},
	}, nil
}
