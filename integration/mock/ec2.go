package mock

import (
	"context"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2 is a mock EC2 client serving region enumeration per account.
type EC2 struct {
	mu sync.Mutex

	AccountID string
	// RegionsByAccount maps account id to its enabled regions.
	RegionsByAccount map[string][]string
	// FailAccounts lists accounts whose DescribeRegions call fails.
	FailAccounts map[string]bool
}

// DescribeRegions implements aws.EC2Client.
func (m *EC2) DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAccounts[m.AccountID] {
		return nil, fmt.Errorf("UnauthorizedOperation: DescribeRegions denied for %s", m.AccountID)
	}

	out := &ec2.DescribeRegionsOutput{}
	for _, name := range m.RegionsByAccount[m.AccountID] {
		out.Regions = append(out.Regions, ec2types.Region{
			RegionName: awssdk.String(name),
			Endpoint:   awssdk.String("ec2." + name + ".amazonaws.com"),
		})
	}
	return out, nil
}
