package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	smithy "github.com/aws/smithy-go"
)

// InstanceState is the normalized VM state reported to callers, collapsing
// EC2's finer-grained states into the set the orchestrator and status
// aggregator reason about.
type InstanceState string

const (
	InstanceRunning  InstanceState = "running"
	InstanceStopped  InstanceState = "stopped"
	InstancePending  InstanceState = "pending"
	InstanceStopping InstanceState = "stopping"
	InstanceUnknown  InstanceState = "unknown"
)

// InstanceStatus is a single EC2 instance's describe result.
type InstanceStatus struct {
	ID        string
	State     InstanceState
	PrivateIP string
}

// TaggedInstance is a VM instance discovered by tag scan, carrying the
// subset of tags discovery cares about.
type TaggedInstance struct {
	ID        string
	PrivateIP string
	State     InstanceState
	AppName   string
	Component string
	Shared    bool
}

// InstanceProber describes, starts, and stops EC2 instances backing
// PostgreSQL/Neo4j database VMs.
type InstanceProber interface {
	Describe(ctx context.Context, ids []string) ([]InstanceStatus, error)
	Start(ctx context.Context, ids []string) error
	Stop(ctx context.Context, ids []string) error
	// ScanTagged lists every instance carrying appNameTag, componentTag, or
	// sharedTag, used by discovery to attach instance_ids to app records
	// without an explicit configmap match.
	ScanTagged(ctx context.Context, appNameTag, componentTag, sharedTag string) ([]TaggedInstance, error)
}

// EC2Prober implements InstanceProber against a live AWS account.
type EC2Prober struct {
	client *ec2.Client
}

// NewEC2Prober loads the default AWS config (environment, shared config
// file, or EC2/ECS instance role, in that order) and constructs an EC2
// client for the given region.
func NewEC2Prober(ctx context.Context, region string) (*EC2Prober, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &EC2Prober{client: ec2.NewFromConfig(cfg)}, nil
}

// Describe returns the current state of each instance ID. If EC2 reports
// any of the IDs as not found, the whole call fails with a
// NotFound-classified error; no per-ID status is returned.
func (p *EC2Prober) Describe(ctx context.Context, ids []string) ([]InstanceStatus, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	statuses, err := retryTransient(ctx, func() ([]InstanceStatus, error) {
		out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
		if err != nil {
			return nil, NewError(classifyAWSError(err), "ec2.DescribeInstances", err)
		}
		var statuses []InstanceStatus
		for _, res := range out.Reservations {
			for _, inst := range res.Instances {
				statuses = append(statuses, InstanceStatus{
					ID:        aws.ToString(inst.InstanceId),
					State:     normalizeEC2State(inst.State),
					PrivateIP: aws.ToString(inst.PrivateIpAddress),
				})
			}
		}
		return statuses, nil
	})
	return statuses, err
}

// Start issues an asynchronous StartInstances call. The cloud has accepted
// the request; callers must poll Describe for the resulting state.
func (p *EC2Prober) Start(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := retryTransient(ctx, func() (struct{}, error) {
		_, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: ids})
		return struct{}{}, NewError(classifyAWSError(err), "ec2.StartInstances", err)
	})
	return err
}

// Stop issues an asynchronous StopInstances call.
func (p *EC2Prober) Stop(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := retryTransient(ctx, func() (struct{}, error) {
		_, err := p.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: ids})
		return struct{}{}, NewError(classifyAWSError(err), "ec2.StopInstances", err)
	})
	return err
}

// ScanTagged lists instances that carry any of the three discovery tag
// keys, using an EC2 tag-key existence filter so instances tagged with
// only one of the three are still found.
func (p *EC2Prober) ScanTagged(ctx context.Context, appNameTag, componentTag, sharedTag string) ([]TaggedInstance, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{
				Name:   aws.String("tag-key"),
				Values: []string{appNameTag, componentTag, sharedTag},
			},
		},
	})
	if err != nil {
		return nil, NewError(classifyAWSError(err), "ec2.DescribeInstances", err)
	}

	var found []TaggedInstance
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			tags := tagMap(inst.Tags)
			appName, hasApp := tags[appNameTag]
			if !hasApp {
				continue
			}
			found = append(found, TaggedInstance{
				ID:        aws.ToString(inst.InstanceId),
				PrivateIP: aws.ToString(inst.PrivateIpAddress),
				State:     normalizeEC2State(inst.State),
				AppName:   appName,
				Component: tags[componentTag],
				Shared:    tags[sharedTag] == "true",
			})
		}
	}
	return found, nil
}

func tagMap(tags []types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}

func normalizeEC2State(s *types.InstanceState) InstanceState {
	if s == nil {
		return InstanceUnknown
	}
	switch s.Name {
	case types.InstanceStateNameRunning:
		return InstanceRunning
	case types.InstanceStateNameStopped:
		return InstanceStopped
	case types.InstanceStateNamePending:
		return InstancePending
	case types.InstanceStateNameStopping, types.InstanceStateNameShuttingDown:
		return InstanceStopping
	default:
		return InstanceUnknown
	}
}

// classifyAWSError maps an AWS SDK error into a probe Kind. Throttling
// errors are Transient; missing-resource errors are NotFound;
// authorization errors are PermissionDenied; everything else, connectivity
// errors included, is Fatal.
func classifyAWSError(err error) Kind {
	if err == nil {
		return ""
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceID.NotFound", "InvalidNodegroupName.NotFound", "ResourceNotFoundException":
			return KindNotFound
		case "UnauthorizedOperation", "AccessDenied", "AccessDeniedException":
			return KindPermissionDenied
		case "RequestLimitExceeded", "Throttling", "ThrottlingException":
			return KindTransient
		}
	}
	return KindFatal
}
