package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// lambdaTimeLayout is the format of FunctionConfiguration.LastModified.
const lambdaTimeLayout = "2006-01-02T15:04:05.000-0700"

var transitGatewaySkipStates = map[ec2types.TransitGatewayState]bool{
	ec2types.TransitGatewayStateDeleting:  true,
	ec2types.TransitGatewayStateDeleted:   true,
	ec2types.TransitGatewayStatePending:   true,
	ec2types.TransitGatewayStateModifying: true,
}

var eventSourceMappingBusyStates = map[string]bool{
	"Creating":  true,
	"Enabling":  true,
	"Disabling": true,
	"Updating":  true,
	"Deleting":  true,
}

func (p *Plugin) computeKinds() []resource.Descriptor {
	return []resource.Descriptor{
		describe(kindDef[ec2types.KeyPairInfo]{
			kind:     "Ec2KeyPair",
			ageStore: true,
			list:     listKeyPairs,
			id:       func(k ec2types.KeyPairInfo) string { return aws.ToString(k.KeyPairId) },
			name:     func(k ec2types.KeyPairInfo) string { return aws.ToString(k.KeyName) },
			terminate: func(ctx context.Context, s *Session, k ec2types.KeyPairInfo) error {
				_, err := s.ec2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: k.KeyName})
				return err
			},
		}),
		describe(kindDef[ec2types.Instance]{
			kind:    "Ec2Instance",
			list:    listInstances,
			id:      func(i ec2types.Instance) string { return aws.ToString(i.InstanceId) },
			name:    func(i ec2types.Instance) string { return aws.ToString(i.PrivateDnsName) },
			created: func(i ec2types.Instance) (time.Time, bool) { return timeOf(i.LaunchTime) },
			ignore: func(_ context.Context, _ *Session, i ec2types.Instance) bool {
				return i.State != nil && i.State.Name == ec2types.InstanceStateNameTerminated
			},
			terminate: terminateInstance,
		}),
		describe(kindDef[ec2types.Snapshot]{
			kind:    "Ec2Snapshot",
			list:    listSnapshots,
			id:      func(sn ec2types.Snapshot) string { return aws.ToString(sn.SnapshotId) },
			name:    func(sn ec2types.Snapshot) string { return aws.ToString(sn.Description) },
			created: func(sn ec2types.Snapshot) (time.Time, bool) { return timeOf(sn.StartTime) },
			terminate: func(ctx context.Context, s *Session, sn ec2types.Snapshot) error {
				_, err := s.ec2.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: sn.SnapshotId})
				return err
			},
		}),
		describe(kindDef[ec2types.Image]{
			kind:    "Ec2Image",
			list:    listImages,
			id:      func(i ec2types.Image) string { return aws.ToString(i.ImageId) },
			name:    func(i ec2types.Image) string { return aws.ToString(i.Name) },
			created: func(i ec2types.Image) (time.Time, bool) { return parseTime(time.RFC3339, i.CreationDate) },
			terminate: func(ctx context.Context, s *Session, i ec2types.Image) error {
				_, err := s.ec2.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: i.ImageId})
				return err
			},
		}),
		describe(kindDef[ec2types.Volume]{
			kind:    "Ec2Volume",
			list:    listVolumes,
			id:      func(v ec2types.Volume) string { return aws.ToString(v.VolumeId) },
			name:    func(v ec2types.Volume) string { return nameTag(v.Tags) },
			created: func(v ec2types.Volume) (time.Time, bool) { return timeOf(v.CreateTime) },
			terminate: func(ctx context.Context, s *Session, v ec2types.Volume) error {
				_, err := s.ec2.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: v.VolumeId})
				return err
			},
		}),
		describe(kindDef[ec2types.TransitGateway]{
			kind:    "Ec2TransitGateway",
			list:    listTransitGateways,
			id:      func(g ec2types.TransitGateway) string { return aws.ToString(g.TransitGatewayId) },
			name:    func(g ec2types.TransitGateway) string { return aws.ToString(g.TransitGatewayArn) },
			created: func(g ec2types.TransitGateway) (time.Time, bool) { return timeOf(g.CreationTime) },
			// deleting and deleted need nothing more; pending and modifying
			// refuse deletion.
			ignore: func(_ context.Context, _ *Session, g ec2types.TransitGateway) bool {
				return transitGatewaySkipStates[g.State]
			},
			terminate: func(ctx context.Context, s *Session, g ec2types.TransitGateway) error {
				_, err := s.ec2.DeleteTransitGateway(ctx, &ec2.DeleteTransitGatewayInput{TransitGatewayId: g.TransitGatewayId})
				return err
			},
		}),
		describe(kindDef[elbtypes.LoadBalancer]{
			kind:    "Elbv2LoadBalancer",
			list:    listLoadBalancers,
			id:      func(lb elbtypes.LoadBalancer) string { return aws.ToString(lb.LoadBalancerArn) },
			name:    func(lb elbtypes.LoadBalancer) string { return aws.ToString(lb.LoadBalancerName) },
			created: func(lb elbtypes.LoadBalancer) (time.Time, bool) { return timeOf(lb.CreatedTime) },
			terminate: func(ctx context.Context, s *Session, lb elbtypes.LoadBalancer) error {
				_, err := s.elb.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{LoadBalancerArn: lb.LoadBalancerArn})
				return err
			},
		}),
		describe(kindDef[ecrtypes.Repository]{
			kind:      "EcrRepository",
			list:      listRepositories,
			name:      func(r ecrtypes.Repository) string { return aws.ToString(r.RepositoryName) },
			created:   func(r ecrtypes.Repository) (time.Time, bool) { return timeOf(r.CreatedAt) },
			terminate: terminateRepository,
		}),
		describe(kindDef[lambdatypes.FunctionConfiguration]{
			kind: "LambdaFunction",
			list: listFunctions,
			name: func(f lambdatypes.FunctionConfiguration) string { return aws.ToString(f.FunctionName) },
			created: func(f lambdatypes.FunctionConfiguration) (time.Time, bool) {
				return parseTime(lambdaTimeLayout, f.LastModified)
			},
			terminate: func(ctx context.Context, s *Session, f lambdatypes.FunctionConfiguration) error {
				_, err := s.lambda.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: f.FunctionName})
				return err
			},
		}),
		describe(kindDef[lambdatypes.EventSourceMappingConfiguration]{
			kind:     "LambdaEventSourceMapping",
			ageStore: true,
			list:     listEventSourceMappings,
			id:       func(m lambdatypes.EventSourceMappingConfiguration) string { return aws.ToString(m.UUID) },
			name:     func(m lambdatypes.EventSourceMappingConfiguration) string { return aws.ToString(m.UUID) },
			ignore: func(_ context.Context, _ *Session, m lambdatypes.EventSourceMappingConfiguration) bool {
				return eventSourceMappingBusyStates[aws.ToString(m.State)]
			},
			terminate: func(ctx context.Context, s *Session, m lambdatypes.EventSourceMappingConfiguration) error {
				_, err := s.lambda.DeleteEventSourceMapping(ctx, &lambda.DeleteEventSourceMappingInput{UUID: m.UUID})
				return err
			},
		}),
		describe(kindDef[rdstypes.DBParameterGroup]{
			kind:     "RdsDbParameterGroup",
			ageStore: true,
			list:     listDBParameterGroups,
			id:       func(g rdstypes.DBParameterGroup) string { return aws.ToString(g.DBParameterGroupArn) },
			name:     func(g rdstypes.DBParameterGroup) string { return aws.ToString(g.DBParameterGroupName) },
			ignore: func(_ context.Context, _ *Session, g rdstypes.DBParameterGroup) bool {
				return strings.HasPrefix(aws.ToString(g.DBParameterGroupName), "default.")
			},
			terminate: func(ctx context.Context, s *Session, g rdstypes.DBParameterGroup) error {
				_, err := s.rds.DeleteDBParameterGroup(ctx, &rds.DeleteDBParameterGroupInput{DBParameterGroupName: g.DBParameterGroupName})
				return err
			},
		}),
		describe(kindDef[rdstypes.DBInstance]{
			kind:    "RdsDbInstance",
			list:    listDBInstances,
			id:      func(db rdstypes.DBInstance) string { return aws.ToString(db.DBInstanceArn) },
			name:    func(db rdstypes.DBInstance) string { return aws.ToString(db.DBInstanceIdentifier) },
			created: func(db rdstypes.DBInstance) (time.Time, bool) { return timeOf(db.InstanceCreateTime) },
			ignore: func(_ context.Context, _ *Session, db rdstypes.DBInstance) bool {
				status := aws.ToString(db.DBInstanceStatus)
				return status == "creating" || status == "deleting" || aws.ToBool(db.DeletionProtection)
			},
			terminate: func(ctx context.Context, s *Session, db rdstypes.DBInstance) error {
				_, err := s.rds.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
					DBInstanceIdentifier:   db.DBInstanceIdentifier,
					SkipFinalSnapshot:      aws.Bool(true),
					DeleteAutomatedBackups: aws.Bool(true),
				})
				return err
			},
		}),
		describe(kindDef[asgtypes.AutoScalingGroup]{
			kind:    "AutoScalingGroup",
			list:    listAutoScalingGroups,
			id:      func(g asgtypes.AutoScalingGroup) string { return aws.ToString(g.AutoScalingGroupARN) },
			name:    func(g asgtypes.AutoScalingGroup) string { return aws.ToString(g.AutoScalingGroupName) },
			created: func(g asgtypes.AutoScalingGroup) (time.Time, bool) { return timeOf(g.CreatedTime) },
			// Status is only set while a delete is in progress.
			ignore: func(_ context.Context, _ *Session, g asgtypes.AutoScalingGroup) bool {
				return aws.ToString(g.Status) != ""
			},
			terminate: func(ctx context.Context, s *Session, g asgtypes.AutoScalingGroup) error {
				_, err := s.autoscaling.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
					AutoScalingGroupName: g.AutoScalingGroupName,
					ForceDelete:          aws.Bool(true),
				})
				return err
			},
		}),
	}
}

func listKeyPairs(ctx context.Context, s *Session) ([]ec2types.KeyPairInfo, error) {
	output, err := s.ec2.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{})
	if err != nil {
		return nil, err
	}
	return output.KeyPairs, nil
}

func listInstances(ctx context.Context, s *Session) ([]ec2types.Instance, error) {
	var instances []ec2types.Instance
	var nextToken *string

	for {
		output, err := s.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		for _, reservation := range output.Reservations {
			instances = append(instances, reservation.Instances...)
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return instances, nil
}

// terminateInstance clears termination protection when AWS refuses the
// first attempt.
func terminateInstance(ctx context.Context, s *Session, i ec2types.Instance) error {
	input := &ec2.TerminateInstancesInput{InstanceIds: []string{aws.ToString(i.InstanceId)}}

	_, err := s.ec2.TerminateInstances(ctx, input)
	if err == nil || !hasCode(err, "OperationNotPermitted") {
		return err
	}

	_, err = s.ec2.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:            i.InstanceId,
		DisableApiTermination: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
	})
	if err := stepErr(err, "disable termination protection"); err != nil {
		return err
	}

	_, err = s.ec2.TerminateInstances(ctx, input)
	return err
}

func listSnapshots(ctx context.Context, s *Session) ([]ec2types.Snapshot, error) {
	var snapshots []ec2types.Snapshot
	var nextToken *string

	for {
		output, err := s.ec2.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
			OwnerIds:  []string{s.Account()},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, output.Snapshots...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return snapshots, nil
}

func listImages(ctx context.Context, s *Session) ([]ec2types.Image, error) {
	var images []ec2types.Image
	var nextToken *string

	for {
		output, err := s.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Owners:    []string{s.Account()},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, err
		}

		images = append(images, output.Images...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return images, nil
}

func listVolumes(ctx context.Context, s *Session) ([]ec2types.Volume, error) {
	var volumes []ec2types.Volume
	var nextToken *string

	for {
		output, err := s.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		volumes = append(volumes, output.Volumes...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return volumes, nil
}

func listTransitGateways(ctx context.Context, s *Session) ([]ec2types.TransitGateway, error) {
	var gateways []ec2types.TransitGateway
	var nextToken *string

	for {
		output, err := s.ec2.DescribeTransitGateways(ctx, &ec2.DescribeTransitGatewaysInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		gateways = append(gateways, output.TransitGateways...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return gateways, nil
}

func listLoadBalancers(ctx context.Context, s *Session) ([]elbtypes.LoadBalancer, error) {
	var balancers []elbtypes.LoadBalancer
	var marker *string

	for {
		output, err := s.elb.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		balancers = append(balancers, output.LoadBalancers...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return balancers, nil
}

func listRepositories(ctx context.Context, s *Session) ([]ecrtypes.Repository, error) {
	var repositories []ecrtypes.Repository
	var nextToken *string

	for {
		output, err := s.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		repositories = append(repositories, output.Repositories...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return repositories, nil
}

// terminateRepository deletes every image before the repository itself.
func terminateRepository(ctx context.Context, s *Session, r ecrtypes.Repository) error {
	var nextToken *string

	for {
		output, err := s.ecr.ListImages(ctx, &ecr.ListImagesInput{RepositoryName: r.RepositoryName, NextToken: nextToken})
		if err != nil {
			return fmt.Errorf("list images: %w", err)
		}

		if len(output.ImageIds) > 0 {
			_, err = s.ecr.BatchDeleteImage(ctx, &ecr.BatchDeleteImageInput{RepositoryName: r.RepositoryName, ImageIds: output.ImageIds})
			if err := stepErr(err, "delete images"); err != nil {
				return err
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	_, err := s.ecr.DeleteRepository(ctx, &ecr.DeleteRepositoryInput{RepositoryName: r.RepositoryName})
	return err
}

func listFunctions(ctx context.Context, s *Session) ([]lambdatypes.FunctionConfiguration, error) {
	var functions []lambdatypes.FunctionConfiguration
	var marker *string

	for {
		output, err := s.lambda.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		functions = append(functions, output.Functions...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return functions, nil
}

func listEventSourceMappings(ctx context.Context, s *Session) ([]lambdatypes.EventSourceMappingConfiguration, error) {
	var mappings []lambdatypes.EventSourceMappingConfiguration
	var marker *string

	for {
		output, err := s.lambda.ListEventSourceMappings(ctx, &lambda.ListEventSourceMappingsInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		mappings = append(mappings, output.EventSourceMappings...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return mappings, nil
}

func listDBParameterGroups(ctx context.Context, s *Session) ([]rdstypes.DBParameterGroup, error) {
	var groups []rdstypes.DBParameterGroup
	var marker *string

	for {
		output, err := s.rds.DescribeDBParameterGroups(ctx, &rds.DescribeDBParameterGroupsInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		groups = append(groups, output.DBParameterGroups...)

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return groups, nil
}

func listDBInstances(ctx context.Context, s *Session) ([]rdstypes.DBInstance, error) {
	var instances []rdstypes.DBInstance
	var marker *string

	for {
		output, err := s.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		instances = append(instances, output.DBInstances...)

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return instances, nil
}

func listAutoScalingGroups(ctx context.Context, s *Session) ([]asgtypes.AutoScalingGroup, error) {
	var groups []asgtypes.AutoScalingGroup
	var nextToken *string

	for {
		output, err := s.autoscaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		groups = append(groups, output.AutoScalingGroups...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return groups, nil
}
