package mock

import (
	"context"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
)

// Organizations is a mock Organizations client over a synthetic org tree.
type Organizations struct {
	mu sync.Mutex

	Org   orgtypes.Organization
	Roots []orgtypes.Root

	// UnitChildren and AccountChildren map parent id to child ids.
	UnitChildren    map[string][]string
	AccountChildren map[string][]string

	Units    map[string]orgtypes.OrganizationalUnit
	Accounts map[string]orgtypes.Account

	// DescribedUnits counts DescribeOrganizationalUnit calls per unit id,
	// to assert every unit is visited exactly once.
	DescribedUnits map[string]int
	// ListChildrenCalls counts ListChildren calls per parent id.
	ListChildrenCalls map[string]int
}

// NewOrganizations creates an empty mock directory; callers populate the
// tree with AddRoot, AddUnit, and AddAccount.
func NewOrganizations(orgID, masterAccountID string) *Organizations {
	return &Organizations{
		Org: orgtypes.Organization{
			Id:              awssdk.String(orgID),
			Arn:             awssdk.String(fmt.Sprintf("arn:aws:organizations::%s:organization/%s", masterAccountID, orgID)),
			MasterAccountId: awssdk.String(masterAccountID),
			MasterAccountArn: awssdk.String(fmt.Sprintf(
				"arn:aws:organizations::%s:account/%s/%s", masterAccountID, orgID, masterAccountID)),
			FeatureSet: orgtypes.OrganizationFeatureSetAll,
		},
		UnitChildren:      make(map[string][]string),
		AccountChildren:   make(map[string][]string),
		Units:             make(map[string]orgtypes.OrganizationalUnit),
		Accounts:          make(map[string]orgtypes.Account),
		DescribedUnits:    make(map[string]int),
		ListChildrenCalls: make(map[string]int),
	}
}

// AddRoot registers a root node.
func (m *Organizations) AddRoot(id, name string) {
	m.Roots = append(m.Roots, orgtypes.Root{
		Id:   awssdk.String(id),
		Arn:  awssdk.String("arn:aws:organizations::root/" + id),
		Name: awssdk.String(name),
	})
}

// AddUnit registers an organizational unit beneath parentID.
func (m *Organizations) AddUnit(parentID, id, name string) {
	m.Units[id] = orgtypes.OrganizationalUnit{
		Id:   awssdk.String(id),
		Arn:  awssdk.String("arn:aws:organizations::ou/" + id),
		Name: awssdk.String(name),
	}
	m.UnitChildren[parentID] = append(m.UnitChildren[parentID], id)
}

// AddAccount registers an account beneath parentID.
func (m *Organizations) AddAccount(parentID, id, name string) {
	m.Accounts[id] = orgtypes.Account{
		Id:     awssdk.String(id),
		Arn:    awssdk.String(fmt.Sprintf("arn:aws:organizations::account/%s", id)),
		Name:   awssdk.String(name),
		Email:  awssdk.String(name + "@example.com"),
		Status: orgtypes.AccountStatusActive,
	}
	m.AccountChildren[parentID] = append(m.AccountChildren[parentID], id)
}

// DescribeOrganization implements aws.OrganizationsClient.
func (m *Organizations) DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error) {
	org := m.Org
	return &organizations.DescribeOrganizationOutput{Organization: &org}, nil
}

// ListRoots implements aws.OrganizationsClient.
func (m *Organizations) ListRoots(ctx context.Context, params *organizations.ListRootsInput, optFns ...func(*organizations.Options)) (*organizations.ListRootsOutput, error) {
	return &organizations.ListRootsOutput{Roots: m.Roots}, nil
}

// ListChildren implements aws.OrganizationsClient.
func (m *Organizations) ListChildren(ctx context.Context, params *organizations.ListChildrenInput, optFns ...func(*organizations.Options)) (*organizations.ListChildrenOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent := awssdk.ToString(params.ParentId)
	m.ListChildrenCalls[parent]++

	var ids []string
	var childType orgtypes.ChildType
	switch params.ChildType {
	case orgtypes.ChildTypeOrganizationalUnit:
		ids = m.UnitChildren[parent]
		childType = orgtypes.ChildTypeOrganizationalUnit
	case orgtypes.ChildTypeAccount:
		ids = m.AccountChildren[parent]
		childType = orgtypes.ChildTypeAccount
	default:
		return nil, fmt.Errorf("unsupported child type %q", params.ChildType)
	}

	children := make([]orgtypes.Child, 0, len(ids))
	for _, id := range ids {
		children = append(children, orgtypes.Child{Id: awssdk.String(id), Type: childType})
	}
	return &organizations.ListChildrenOutput{Children: children}, nil
}

// DescribeOrganizationalUnit implements aws.OrganizationsClient.
func (m *Organizations) DescribeOrganizationalUnit(ctx context.Context, params *organizations.DescribeOrganizationalUnitInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationalUnitOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := awssdk.ToString(params.OrganizationalUnitId)
	unit, ok := m.Units[id]
	if !ok {
		return nil, fmt.Errorf("organizational unit %s not found", id)
	}
	m.DescribedUnits[id]++
	return &organizations.DescribeOrganizationalUnitOutput{OrganizationalUnit: &unit}, nil
}

// DescribeAccount implements aws.OrganizationsClient.
func (m *Organizations) DescribeAccount(ctx context.Context, params *organizations.DescribeAccountInput, optFns ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := awssdk.ToString(params.AccountId)
	account, ok := m.Accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s not found", id)
	}
	return &organizations.DescribeAccountOutput{Account: &account}, nil
}
