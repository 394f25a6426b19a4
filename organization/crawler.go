// Package organization discovers the AWS Organizations unit/account tree and
// persists it as a single organization document. Traversal is work-list
// based: units are enqueued once when discovered and dequeued once when their
// children have been enumerated, so arbitrarily deep trees never grow the
// call stack.
package organization

import (
	"context"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"go.uber.org/zap"

	"github.com/openraven/aws-config-discovery/aws"
	"github.com/openraven/aws-config-discovery/credentials"
	"github.com/openraven/aws-config-discovery/docstore"
)

// ErrNotFound is returned when no organization document has been discovered
// yet.
var ErrNotFound = errors.New("discovery: organization not found")

// Service crawls the organization and serves the persisted organization
// document.
type Service struct {
	factory aws.ClientFactory
	broker  credentials.Broker
	store   docstore.Store
	log     *zap.Logger
}

// NewService creates an organization service.
func NewService(factory aws.ClientFactory, broker credentials.Broker, store docstore.Store, log *zap.Logger) *Service {
	return &Service{factory: factory, broker: broker, store: store, log: log}
}

// Get returns the stored organization document, or ErrNotFound when no crawl
// has completed yet.
func (s *Service) Get(ctx context.Context) (docstore.Document, error) {
	docs := s.store.Query(ctx, IndexName, nil, 1)
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Discover describes the organization, walks its full tree under a delegated
// master-account session, and upserts the resulting document. A failure to
// assume into the master account is logged and still produces a bare
// organization document without roots; repeated runs replace the stored
// document in place.
func (s *Service) Discover(ctx context.Context) (docstore.Document, error) {
	described, err := s.factory.Organizations(nil).DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		return nil, fmt.Errorf("describing organization: %w", err)
	}

	o := described.Organization
	org := Organization{
		ID:                 awssdk.ToString(o.Id),
		ARN:                awssdk.ToString(o.Arn),
		FeatureSet:         string(o.FeatureSet),
		MasterAccountID:    awssdk.ToString(o.MasterAccountId),
		MasterAccountARN:   awssdk.ToString(o.MasterAccountArn),
		MasterAccountEmail: awssdk.ToString(o.MasterAccountEmail),
	}

	if err := s.crawlRoots(ctx, &org); err != nil {
		s.log.Warn("failed to assume role into account",
			zap.String("masterAccountId", org.MasterAccountID),
			zap.Error(err))
	}

	org.AWSAccountID = org.MasterAccountID
	org.ResourceID = org.ID
	org.ResourceType = ResourceType

	doc, err := docstore.ToDocument(org)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.BulkUpsert(ctx, []docstore.Document{doc}); err != nil {
		return nil, fmt.Errorf("writing organization document: %w", err)
	}

	return s.Get(ctx)
}

// crawlRoots enumerates the roots and every unit reachable from them under a
// master-account session. The session is released on every exit path.
func (s *Service) crawlRoots(ctx context.Context, org *Organization) error {
	session, err := s.broker.MasterSession(ctx, org.MasterAccountID)
	if err != nil {
		return err
	}
	defer session.Release()

	client := s.factory.Organizations(session)

	roots, err := s.listRoots(ctx, client)
	if err != nil {
		return err
	}
	org.Roots = roots

	// Work list of units still awaiting child enumeration. Every unit enters
	// the queue exactly once, at discovery, and leaves exactly once.
	queue := make([]*Unit, len(roots))
	copy(queue, roots)

	for len(queue) > 0 {
		unit := queue[0]
		queue = queue[1:]

		children, err := s.enumerateChildren(ctx, client, unit)
		if err != nil {
			return err
		}
		queue = append(queue, children...)
	}

	return nil
}

func (s *Service) listRoots(ctx context.Context, client aws.OrganizationsClient) ([]*Unit, error) {
	var roots []*Unit
	var token *string
	for {
		out, err := client.ListRoots(ctx, &organizations.ListRootsInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("listing roots: %w", err)
		}
		for _, root := range out.Roots {
			roots = append(roots, &Unit{
				ID:                  awssdk.ToString(root.Id),
				ARN:                 awssdk.ToString(root.Arn),
				Name:                awssdk.ToString(root.Name),
				OrganizationalUnits: []*Unit{},
				Accounts:            []Account{},
			})
		}
		if out.NextToken == nil {
			return roots, nil
		}
		token = out.NextToken
	}
}

// enumerateChildren fills in the unit's direct child units and accounts and
// returns the newly discovered units for the caller's work list.
func (s *Service) enumerateChildren(ctx context.Context, client aws.OrganizationsClient, unit *Unit) ([]*Unit, error) {
	childUnits, err := s.listChildIDs(ctx, client, unit.ID, orgtypes.ChildTypeOrganizationalUnit)
	if err != nil {
		return nil, err
	}
	var discovered []*Unit
	for _, id := range childUnits {
		described, err := client.DescribeOrganizationalUnit(ctx, &organizations.DescribeOrganizationalUnitInput{
			OrganizationalUnitId: awssdk.String(id),
		})
		if err != nil {
			return nil, fmt.Errorf("describing organizational unit %s: %w", id, err)
		}
		ou := described.OrganizationalUnit
		child := &Unit{
			ID:                  awssdk.ToString(ou.Id),
			ARN:                 awssdk.ToString(ou.Arn),
			Name:                awssdk.ToString(ou.Name),
			OrganizationalUnits: []*Unit{},
			Accounts:            []Account{},
		}
		unit.OrganizationalUnits = append(unit.OrganizationalUnits, child)
		discovered = append(discovered, child)
	}

	childAccounts, err := s.listChildIDs(ctx, client, unit.ID, orgtypes.ChildTypeAccount)
	if err != nil {
		return nil, err
	}
	for _, id := range childAccounts {
		described, err := client.DescribeAccount(ctx, &organizations.DescribeAccountInput{
			AccountId: awssdk.String(id),
		})
		if err != nil {
			return nil, fmt.Errorf("describing account %s: %w", id, err)
		}
		unit.Accounts = append(unit.Accounts, accountFromSDK(*described.Account))
	}

	return discovered, nil
}

func (s *Service) listChildIDs(ctx context.Context, client aws.OrganizationsClient, parentID string, childType orgtypes.ChildType) ([]string, error) {
	var ids []string
	var token *string
	for {
		out, err := client.ListChildren(ctx, &organizations.ListChildrenInput{
			ParentId:  awssdk.String(parentID),
			ChildType: childType,
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s children of %s: %w", childType, parentID, err)
		}
		for _, child := range out.Children {
			ids = append(ids, awssdk.ToString(child.Id))
		}
		if out.NextToken == nil {
			return ids, nil
		}
		token = out.NextToken
	}
}
