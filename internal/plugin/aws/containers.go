package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// ecsDescribeBatch is the DescribeClusters limit.
const ecsDescribeBatch = 100

func (p *Plugin) containerKinds() []resource.Descriptor {
	return []resource.Descriptor{
		describe(kindDef[ekstypes.Cluster]{
			kind:    "EksCluster",
			list:    listEKSClusters,
			id:      func(c ekstypes.Cluster) string { return aws.ToString(c.Arn) },
			name:    func(c ekstypes.Cluster) string { return aws.ToString(c.Name) },
			created: func(c ekstypes.Cluster) (time.Time, bool) { return timeOf(c.CreatedAt) },
			ignore: func(_ context.Context, _ *Session, c ekstypes.Cluster) bool {
				return c.Status == ekstypes.ClusterStatusCreating || c.Status == ekstypes.ClusterStatusDeleting
			},
			terminate: terminateEKSCluster,
		}),
		describe(kindDef[ecstypes.Cluster]{
			kind:     "EcsCluster",
			ageStore: true,
			list:     listECSClusters,
			id:       func(c ecstypes.Cluster) string { return aws.ToString(c.ClusterArn) },
			name:     func(c ecstypes.Cluster) string { return aws.ToString(c.ClusterName) },
			ignore: func(_ context.Context, _ *Session, c ecstypes.Cluster) bool {
				return aws.ToString(c.Status) == "INACTIVE"
			},
			terminate: terminateECSCluster,
		}),
	}
}

func listEKSClusters(ctx context.Context, s *Session) ([]ekstypes.Cluster, error) {
	var clusters []ekstypes.Cluster
	var nextToken *string

	for {
		output, err := s.eks.ListClusters(ctx, &eks.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		for _, name := range output.Clusters {
			desc, err := s.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil {
				return nil, fmt.Errorf("describe cluster %s: %w", name, err)
			}
			if desc.Cluster != nil {
				clusters = append(clusters, *desc.Cluster)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return clusters, nil
}

// terminateEKSCluster requests deletion of every nodegroup, then the
// cluster. While nodegroups drain the cluster delete fails and is retried by
// a later sweep.
func terminateEKSCluster(ctx context.Context, s *Session, c ekstypes.Cluster) error {
	var nextToken *string

	for {
		output, err := s.eks.ListNodegroups(ctx, &eks.ListNodegroupsInput{ClusterName: c.Name, NextToken: nextToken})
		if err != nil {
			return fmt.Errorf("list nodegroups: %w", err)
		}

		for _, ng := range output.Nodegroups {
			_, err := s.eks.DeleteNodegroup(ctx, &eks.DeleteNodegroupInput{ClusterName: c.Name, NodegroupName: aws.String(ng)})
			if hasCode(err, "ResourceInUseException") {
				continue
			}
			if err := stepErr(err, "delete nodegroup "+ng); err != nil {
				return err
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	_, err := s.eks.DeleteCluster(ctx, &eks.DeleteClusterInput{Name: c.Name})
	return err
}

func listECSClusters(ctx context.Context, s *Session) ([]ecstypes.Cluster, error) {
	var arns []string
	var nextToken *string

	for {
		output, err := s.ecs.ListClusters(ctx, &ecs.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		arns = append(arns, output.ClusterArns...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	var clusters []ecstypes.Cluster
	for start := 0; start < len(arns); start += ecsDescribeBatch {
		end := min(start+ecsDescribeBatch, len(arns))
		output, err := s.ecs.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: arns[start:end]})
		if err != nil {
			return nil, fmt.Errorf("describe clusters: %w", err)
		}
		clusters = append(clusters, output.Clusters...)
	}

	return clusters, nil
}

// terminateECSCluster force-deletes the cluster's services before the
// cluster.
func terminateECSCluster(ctx context.Context, s *Session, c ecstypes.Cluster) error {
	var nextToken *string

	for {
		output, err := s.ecs.ListServices(ctx, &ecs.ListServicesInput{Cluster: c.ClusterArn, NextToken: nextToken})
		if err != nil {
			return fmt.Errorf("list services: %w", err)
		}

		for _, svc := range output.ServiceArns {
			_, err := s.ecs.DeleteService(ctx, &ecs.DeleteServiceInput{Cluster: c.ClusterArn, Service: aws.String(svc), Force: aws.Bool(true)})
			if err := stepErr(err, "delete service "+svc); err != nil {
				return err
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	_, err := s.ecs.DeleteCluster(ctx, &ecs.DeleteClusterInput{Cluster: c.ClusterArn})
	return err
}
