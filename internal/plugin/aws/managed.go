package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	ectypes "github.com/aws/aws-sdk-go-v2/service/elasticache/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// managedKinds are the single-call managed service kinds.
func (p *Plugin) managedKinds() []resource.Descriptor {
	return []resource.Descriptor{
		describe(kindDef[elbtypes.LoadBalancerDescription]{
			kind:    "Ec2LoadBalancer",
			list:    listClassicLoadBalancers,
			name:    func(lb elbtypes.LoadBalancerDescription) string { return aws.ToString(lb.LoadBalancerName) },
			created: func(lb elbtypes.LoadBalancerDescription) (time.Time, bool) { return timeOf(lb.CreatedTime) },
			terminate: func(ctx context.Context, s *Session, lb elbtypes.LoadBalancerDescription) error {
				_, err := s.classicELB.DeleteLoadBalancer(ctx, &elasticloadbalancing.DeleteLoadBalancerInput{LoadBalancerName: lb.LoadBalancerName})
				return err
			},
		}),
		describe(kindDef[cwtypes.MetricAlarm]{
			kind:     "CloudWatchAlarm",
			ageStore: true,
			list:     listAlarms,
			name:     func(a cwtypes.MetricAlarm) string { return aws.ToString(a.AlarmName) },
			terminate: func(ctx context.Context, s *Session, a cwtypes.MetricAlarm) error {
				_, err := s.cloudwatch.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{AlarmNames: []string{aws.ToString(a.AlarmName)}})
				return err
			},
		}),
		describe(kindDef[ssmtypes.ParameterMetadata]{
			kind:     "SsmParameter",
			ageStore: true,
			list:     listParameters,
			id:       func(prm ssmtypes.ParameterMetadata) string { return aws.ToString(prm.Name) },
			name:     func(prm ssmtypes.ParameterMetadata) string { return aws.ToString(prm.Name) },
			terminate: func(ctx context.Context, s *Session, prm ssmtypes.ParameterMetadata) error {
				_, err := s.ssm.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: prm.Name})
				return err
			},
		}),
		describe(kindDef[snstypes.Topic]{
			kind:     "Sns",
			ageStore: true,
			list:     listTopics,
			id:       func(t snstypes.Topic) string { return aws.ToString(t.TopicArn) },
			name:     func(t snstypes.Topic) string { return aws.ToString(t.TopicArn) },
			terminate: func(ctx context.Context, s *Session, t snstypes.Topic) error {
				_, err := s.sns.DeleteTopic(ctx, &sns.DeleteTopicInput{TopicArn: t.TopicArn})
				return err
			},
		}),
		describe(kindDef[sfntypes.StateMachineListItem]{
			kind:    "StepFunctions",
			list:    listStateMachines,
			name:    func(m sfntypes.StateMachineListItem) string { return aws.ToString(m.StateMachineArn) },
			created: func(m sfntypes.StateMachineListItem) (time.Time, bool) { return timeOf(m.CreationDate) },
			terminate: func(ctx context.Context, s *Session, m sfntypes.StateMachineListItem) error {
				_, err := s.sfn.DeleteStateMachine(ctx, &sfn.DeleteStateMachineInput{StateMachineArn: m.StateMachineArn})
				return err
			},
		}),
		describe(kindDef[kinesistypes.StreamSummary]{
			kind:    "KinesisStream",
			list:    listStreams,
			id:      func(st kinesistypes.StreamSummary) string { return aws.ToString(st.StreamName) },
			name:    func(st kinesistypes.StreamSummary) string { return aws.ToString(st.StreamName) },
			created: func(st kinesistypes.StreamSummary) (time.Time, bool) { return timeOf(st.StreamCreationTimestamp) },
			ignore: func(_ context.Context, _ *Session, st kinesistypes.StreamSummary) bool {
				return st.StreamStatus == kinesistypes.StreamStatusDeleting
			},
			terminate: func(ctx context.Context, s *Session, st kinesistypes.StreamSummary) error {
				_, err := s.kinesis.DeleteStream(ctx, &kinesis.DeleteStreamInput{
					StreamName:              st.StreamName,
					EnforceConsumerDeletion: aws.Bool(true),
				})
				return err
			},
		}),
		// Certificates carry a creation time, but describing one can fail
		// while it is still deletable, so age is tracked in the store.
		describe(kindDef[acmtypes.CertificateSummary]{
			kind:     "ACMCertificate",
			ageStore: true,
			list:     listCertificates,
			id:       func(c acmtypes.CertificateSummary) string { return aws.ToString(c.CertificateArn) },
			name:     func(c acmtypes.CertificateSummary) string { return aws.ToString(c.CertificateArn) },
			terminate: func(ctx context.Context, s *Session, c acmtypes.CertificateSummary) error {
				_, err := s.acm.DeleteCertificate(ctx, &acm.DeleteCertificateInput{CertificateArn: c.CertificateArn})
				return err
			},
		}),
		describe(kindDef[efstypes.FileSystemDescription]{
			kind:      "Efs",
			list:      listFileSystems,
			id:        func(fs efstypes.FileSystemDescription) string { return aws.ToString(fs.FileSystemId) },
			name:      func(fs efstypes.FileSystemDescription) string { return aws.ToString(fs.Name) },
			created:   func(fs efstypes.FileSystemDescription) (time.Time, bool) { return timeOf(fs.CreationTime) },
			terminate: terminateFileSystem,
		}),
		describe(kindDef[ectypes.CacheCluster]{
			kind:    "Elasticache",
			list:    listCacheClusters,
			id:      func(c ectypes.CacheCluster) string { return aws.ToString(c.CacheClusterId) },
			name:    func(c ectypes.CacheCluster) string { return aws.ToString(c.CacheClusterId) },
			created: func(c ectypes.CacheCluster) (time.Time, bool) { return timeOf(c.CacheClusterCreateTime) },
			terminate: func(ctx context.Context, s *Session, c ectypes.CacheCluster) error {
				_, err := s.elasticache.DeleteCacheCluster(ctx, &elasticache.DeleteCacheClusterInput{CacheClusterId: c.CacheClusterId})
				return err
			},
		}),
	}
}

func listClassicLoadBalancers(ctx context.Context, s *Session) ([]elbtypes.LoadBalancerDescription, error) {
	var lbs []elbtypes.LoadBalancerDescription
	var marker *string

	for {
		output, err := s.classicELB.DescribeLoadBalancers(ctx, &elasticloadbalancing.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		lbs = append(lbs, output.LoadBalancerDescriptions...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return lbs, nil
}

func listAlarms(ctx context.Context, s *Session) ([]cwtypes.MetricAlarm, error) {
	var alarms []cwtypes.MetricAlarm
	var nextToken *string

	for {
		output, err := s.cloudwatch.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		alarms = append(alarms, output.MetricAlarms...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return alarms, nil
}

func listParameters(ctx context.Context, s *Session) ([]ssmtypes.ParameterMetadata, error) {
	var params []ssmtypes.ParameterMetadata
	var nextToken *string

	for {
		output, err := s.ssm.DescribeParameters(ctx, &ssm.DescribeParametersInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		params = append(params, output.Parameters...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return params, nil
}

func listTopics(ctx context.Context, s *Session) ([]snstypes.Topic, error) {
	var topics []snstypes.Topic
	var nextToken *string

	for {
		output, err := s.sns.ListTopics(ctx, &sns.ListTopicsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		topics = append(topics, output.Topics...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return topics, nil
}

func listStateMachines(ctx context.Context, s *Session) ([]sfntypes.StateMachineListItem, error) {
	var machines []sfntypes.StateMachineListItem
	var nextToken *string

	for {
		output, err := s.sfn.ListStateMachines(ctx, &sfn.ListStateMachinesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		machines = append(machines, output.StateMachines...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return machines, nil
}

func listStreams(ctx context.Context, s *Session) ([]kinesistypes.StreamSummary, error) {
	var streams []kinesistypes.StreamSummary
	var nextToken *string

	for {
		output, err := s.kinesis.ListStreams(ctx, &kinesis.ListStreamsInput{NextToken: nextToken, Limit: aws.Int32(100)})
		if err != nil {
			return nil, err
		}

		streams = append(streams, output.StreamSummaries...)

		if !aws.ToBool(output.HasMoreStreams) || output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return streams, nil
}

func listCertificates(ctx context.Context, s *Session) ([]acmtypes.CertificateSummary, error) {
	var certs []acmtypes.CertificateSummary
	var nextToken *string

	for {
		output, err := s.acm.ListCertificates(ctx, &acm.ListCertificatesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		certs = append(certs, output.CertificateSummaryList...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return certs, nil
}

func listFileSystems(ctx context.Context, s *Session) ([]efstypes.FileSystemDescription, error) {
	var filesystems []efstypes.FileSystemDescription
	var marker *string

	for {
		output, err := s.efs.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		filesystems = append(filesystems, output.FileSystems...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return filesystems, nil
}

// terminateFileSystem deletes the mount targets of fs before fs itself; a
// file system with mount targets cannot be deleted.
func terminateFileSystem(ctx context.Context, s *Session, fs efstypes.FileSystemDescription) error {
	var marker *string
	for {
		output, err := s.efs.DescribeMountTargets(ctx, &efs.DescribeMountTargetsInput{FileSystemId: fs.FileSystemId, Marker: marker})
		if err != nil {
			return err
		}

		for _, mt := range output.MountTargets {
			_, err := s.efs.DeleteMountTarget(ctx, &efs.DeleteMountTargetInput{MountTargetId: mt.MountTargetId})
			if err := stepErr(err, "delete mount target "+aws.ToString(mt.MountTargetId)); err != nil {
				return err
			}
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	_, err := s.efs.DeleteFileSystem(ctx, &efs.DeleteFileSystemInput{FileSystemId: fs.FileSystemId})
	return err
}

// listCacheClusters skips clusters still being created or deleted;
// CacheClusterCreateTime is absent while a cluster is created.
func listCacheClusters(ctx context.Context, s *Session) ([]ectypes.CacheCluster, error) {
	var clusters []ectypes.CacheCluster
	var marker *string

	for {
		output, err := s.elasticache.DescribeCacheClusters(ctx, &elasticache.DescribeCacheClustersInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		for _, c := range output.CacheClusters {
			switch aws.ToString(c.CacheClusterStatus) {
			case "creating", "deleting":
				continue
			}
			clusters = append(clusters, c)
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return clusters, nil
}
