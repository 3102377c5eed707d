package probe

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"
)

// NodePoolStatus is the normalized status of a managed node pool,
// collapsing EKS's nodegroup status enum into the states callers
// reason about.
type NodePoolStatus string

const (
	NodePoolActive   NodePoolStatus = "ACTIVE"
	NodePoolUpdating NodePoolStatus = "UPDATING"
	NodePoolCreating NodePoolStatus = "CREATING"
	NodePoolDegraded NodePoolStatus = "DEGRADED"
	NodePoolDeleting NodePoolStatus = "DELETING"
	NodePoolNotFound NodePoolStatus = "NOT_FOUND"
)

// NodePoolDescription is a single node pool's describe result.
type NodePoolDescription struct {
	Status       NodePoolStatus
	Desired      int32
	Min          int32
	Max          int32
	CurrentNodes int32
}

// NodePoolProber describes and resizes a managed node pool (an EKS managed
// nodegroup in this deployment; the interface is cloud-agnostic).
type NodePoolProber interface {
	Describe(ctx context.Context, pool string) (NodePoolDescription, error)
	UpdateScaling(ctx context.Context, pool string, desired, min, max int32) error
}

// EKSNodePoolProber implements NodePoolProber against a live EKS cluster.
type EKSNodePoolProber struct {
	client      *eks.Client
	clusterName string
}

// NewEKSNodePoolProber loads the default AWS config for region and builds
// an EKS client scoped to clusterName.
func NewEKSNodePoolProber(ctx context.Context, region, clusterName string) (*EKSNodePoolProber, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &EKSNodePoolProber{client: eks.NewFromConfig(cfg), clusterName: clusterName}, nil
}

// Describe returns the current status, scaling config, and live node count
// of pool. A nodegroup EKS reports as missing is surfaced as NodePoolNotFound
// rather than an error.
func (p *EKSNodePoolProber) Describe(ctx context.Context, pool string) (NodePoolDescription, error) {
	return retryTransient(ctx, func() (NodePoolDescription, error) {
		out, err := p.client.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
			ClusterName:   aws.String(p.clusterName),
			NodegroupName: aws.String(pool),
		})
		if err != nil {
			kind := classifyAWSError(err)
			if kind == KindNotFound {
				return NodePoolDescription{Status: NodePoolNotFound}, nil
			}
			return NodePoolDescription{}, NewError(kind, "eks.DescribeNodegroup", err)
		}

		ng := out.Nodegroup
		if ng == nil {
			return NodePoolDescription{Status: NodePoolNotFound}, nil
		}

		desc := NodePoolDescription{Status: normalizeNodegroupStatus(ng.Status)}
		if ng.ScalingConfig != nil {
			desc.Desired = aws.ToInt32(ng.ScalingConfig.DesiredSize)
			desc.Min = aws.ToInt32(ng.ScalingConfig.MinSize)
			desc.Max = aws.ToInt32(ng.ScalingConfig.MaxSize)
		}
		desc.CurrentNodes = countCurrentNodes(ng)
		return desc, nil
	})
}

// UpdateScaling resizes pool to the given (desired, min, max). EKS rejects
// a config update that exactly matches the current one with
// ResourceInUseException in some API versions, so the pool is described
// first and an update that would change nothing is skipped.
func (p *EKSNodePoolProber) UpdateScaling(ctx context.Context, pool string, desired, min, max int32) error {
	if cur, err := p.Describe(ctx, pool); err == nil && cur.Desired == desired && cur.Min == min && cur.Max == max {
		return nil
	}
	_, err := retryTransient(ctx, func() (struct{}, error) {
		_, err := p.client.UpdateNodegroupConfig(ctx, &eks.UpdateNodegroupConfigInput{
			ClusterName:   aws.String(p.clusterName),
			NodegroupName: aws.String(pool),
			ScalingConfig: &types.NodegroupScalingConfig{
				DesiredSize: aws.Int32(desired),
				MinSize:     aws.Int32(min),
				MaxSize:     aws.Int32(max),
			},
		})
		return struct{}{}, NewError(classifyAWSError(err), "eks.UpdateNodegroupConfig", err)
	})
	return err
}

func normalizeNodegroupStatus(s types.NodegroupStatus) NodePoolStatus {
	switch s {
	case types.NodegroupStatusActive:
		return NodePoolActive
	case types.NodegroupStatusUpdating:
		return NodePoolUpdating
	case types.NodegroupStatusCreating:
		return NodePoolCreating
	case types.NodegroupStatusDegraded:
		return NodePoolDegraded
	case types.NodegroupStatusDeleting, types.NodegroupStatusDeleteFailed:
		return NodePoolDeleting
	default:
		return NodePoolDegraded
	}
}

// countCurrentNodes sums the instance counts of the nodegroup's backing
// autoscaling groups when EKS reports them; the describe response does not
// carry a live node count directly.
func countCurrentNodes(ng *types.Nodegroup) int32 {
	if ng.Resources == nil {
		return 0
	}
	return int32(len(ng.Resources.AutoScalingGroups))
}
