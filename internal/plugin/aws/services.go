package aws

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	mdbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// sesListInterval paces ListReceiptRuleSets, which allows one call per second.
var sesListInterval = time.Second

// bucketObject is an object in one of the persistent buckets.
type bucketObject struct {
	Bucket string
	Region string
	Object s3types.Object
}

// bucket is an S3 bucket with its resolved region.
type bucket struct {
	s3types.Bucket
	Region string
}

func (p *Plugin) serviceKinds() []resource.Descriptor {
	return []resource.Descriptor{
		describe(kindDef[cwltypes.LogGroup]{
			kind: "CloudWatchLogGroup",
			list: listLogGroups,
			name: func(g cwltypes.LogGroup) string { return aws.ToString(g.LogGroupName) },
			created: func(g cwltypes.LogGroup) (time.Time, bool) {
				if g.CreationTime == nil {
					return time.Time{}, false
				}
				return time.UnixMilli(*g.CreationTime).UTC().Truncate(time.Second), true
			},
			terminate: func(ctx context.Context, s *Session, g cwltypes.LogGroup) error {
				_, err := s.logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{LogGroupName: g.LogGroupName})
				return err
			},
		}),
		describe(kindDef[bucket]{
			kind:    "S3Bucket",
			global:  true,
			list:    listBuckets,
			name:    func(b bucket) string { return aws.ToString(b.Name) },
			created: func(b bucket) (time.Time, bool) { return timeOf(b.CreationDate) },
			// Encryption on a new bucket takes up to a day, so tests share
			// persistent buckets that are emptied rather than deleted.
			ignore: func(_ context.Context, _ *Session, b bucket) bool {
				return slices.Contains(p.opts.PersistentBuckets, aws.ToString(b.Name))
			},
			terminate: terminateBucket,
		}),
		describe(kindDef[bucketObject]{
			kind:    "SSMBucketObjects",
			global:  true,
			list:    p.listPersistentObjects,
			id:      func(o bucketObject) string { return o.Bucket + "/" + aws.ToString(o.Object.Key) },
			name:    func(o bucketObject) string { return aws.ToString(o.Object.Key) },
			created: func(o bucketObject) (time.Time, bool) { return timeOf(o.Object.LastModified) },
			terminate: func(ctx context.Context, s *Session, o bucketObject) error {
				_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(o.Bucket), Key: o.Object.Key}, inRegion(o.Region))
				return err
			},
		}),
		describe(kindDef[string]{
			kind:     "SesIdentity",
			ageStore: true,
			list:     listIdentities,
			id:       func(identity string) string { return identity },
			name:     func(identity string) string { return identity },
			terminate: func(ctx context.Context, s *Session, identity string) error {
				_, err := s.ses.DeleteIdentity(ctx, &ses.DeleteIdentityInput{Identity: aws.String(identity)})
				return err
			},
		}),
		describe(kindDef[sestypes.ReceiptRuleSetMetadata]{
			kind:    "SesReceiptRuleSet",
			list:    listReceiptRuleSets,
			name:    func(r sestypes.ReceiptRuleSetMetadata) string { return aws.ToString(r.Name) },
			created: func(r sestypes.ReceiptRuleSetMetadata) (time.Time, bool) { return timeOf(r.CreatedTimestamp) },
			terminate: func(ctx context.Context, s *Session, r sestypes.ReceiptRuleSetMetadata) error {
				_, err := s.ses.DeleteReceiptRuleSet(ctx, &ses.DeleteReceiptRuleSetInput{RuleSetName: r.Name})
				return err
			},
		}),
		describe(kindDef[string]{
			kind:     "SqsQueue",
			ageStore: true,
			list:     listQueues,
			id:       func(url string) string { return url },
			name:     func(url string) string { return url },
			terminate: func(ctx context.Context, s *Session, url string) error {
				_, err := s.sqs.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)})
				return err
			},
		}),
		describe(kindDef[string]{
			kind:     "DynamoDb",
			ageStore: true,
			list:     listTables,
			id:       func(table string) string { return table },
			name:     func(table string) string { return table },
			ignore: func(_ context.Context, _ *Session, table string) bool {
				return slices.Contains(p.opts.ProtectedTables, table)
			},
			terminate: func(ctx context.Context, s *Session, table string) error {
				_, err := s.dynamodb.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)})
				return err
			},
		}),
		describe(kindDef[redshifttypes.Cluster]{
			kind:    "RedshiftCluster",
			list:    listRedshiftClusters,
			id:      func(c redshifttypes.Cluster) string { return aws.ToString(c.ClusterIdentifier) },
			name:    func(c redshifttypes.Cluster) string { return redshiftNameTag(c.Tags) },
			created: func(c redshifttypes.Cluster) (time.Time, bool) { return timeOf(c.ClusterCreateTime) },
			terminate: func(ctx context.Context, s *Session, c redshifttypes.Cluster) error {
				_, err := s.redshift.DeleteCluster(ctx, &redshift.DeleteClusterInput{
					ClusterIdentifier:        c.ClusterIdentifier,
					SkipFinalClusterSnapshot: aws.Bool(true),
				})
				return err
			},
		}),
		describe(kindDef[mdbtypes.Cluster]{
			kind:     "MemoryDbCluster",
			ageStore: true,
			list:     listMemoryDBClusters,
			id:       func(c mdbtypes.Cluster) string { return aws.ToString(c.ARN) },
			name:     func(c mdbtypes.Cluster) string { return aws.ToString(c.Name) },
			ignore: func(_ context.Context, _ *Session, c mdbtypes.Cluster) bool {
				status := aws.ToString(c.Status)
				return status == "creating" || status == "deleting"
			},
			terminate: func(ctx context.Context, s *Session, c mdbtypes.Cluster) error {
				_, err := s.memorydb.DeleteCluster(ctx, &memorydb.DeleteClusterInput{ClusterName: c.Name})
				return err
			},
		}),
		describe(kindDef[cttypes.TrailInfo]{
			kind:     "CloudTrailTrail",
			ageStore: true,
			list:     listTrails,
			id:       func(t cttypes.TrailInfo) string { return aws.ToString(t.TrailARN) },
			name:     func(t cttypes.TrailInfo) string { return aws.ToString(t.Name) },
			// Multi-region trails are listed in every region; only the home
			// region may delete them.
			ignore: func(_ context.Context, s *Session, t cttypes.TrailInfo) bool {
				return aws.ToString(t.HomeRegion) != s.Region()
			},
			terminate: func(ctx context.Context, s *Session, t cttypes.TrailInfo) error {
				_, err := s.cloudtrail.DeleteTrail(ctx, &cloudtrail.DeleteTrailInput{Name: t.TrailARN})
				return err
			},
		}),
	}
}

func listLogGroups(ctx context.Context, s *Session) ([]cwltypes.LogGroup, error) {
	var groups []cwltypes.LogGroup
	var nextToken *string

	for {
		output, err := s.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		groups = append(groups, output.LogGroups...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return groups, nil
}

func inRegion(region string) func(*s3.Options) {
	return func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

// bucketRegion resolves the region a bucket lives in. Buckets created
// without a location constraint live in us-east-1; "EU" is eu-west-1.
func bucketRegion(ctx context.Context, s *Session, name string) (string, error) {
	output, err := s.s3.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(name)})
	if err != nil {
		return "", err
	}
	switch output.LocationConstraint {
	case "":
		return "us-east-1", nil
	case "EU":
		return "eu-west-1", nil
	default:
		return string(output.LocationConstraint), nil
	}
}

func listBuckets(ctx context.Context, s *Session) ([]bucket, error) {
	output, err := s.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}

	buckets := make([]bucket, 0, len(output.Buckets))
	for _, b := range output.Buckets {
		region, err := bucketRegion(ctx, s, aws.ToString(b.Name))
		if hasCode(err, "NoSuchBucket") {
			continue
		}
		if err != nil {
			log.Warn().Err(translate(err)).Str("bucket", aws.ToString(b.Name)).Msg("cannot locate bucket, skipping it")
			continue
		}
		buckets = append(buckets, bucket{Bucket: b, Region: region})
	}
	return buckets, nil
}

// terminateBucket deletes the bucket, emptying it first when AWS refuses.
func terminateBucket(ctx context.Context, s *Session, b bucket) error {
	opt := inRegion(b.Region)

	_, err := s.s3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: b.Name}, opt)
	if err == nil || hasCode(err, "NoSuchBucket") {
		return nil
	}

	var token *string
	for {
		output, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: b.Name, ContinuationToken: token}, opt)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}

		if len(output.Contents) > 0 {
			objects := make([]s3types.ObjectIdentifier, 0, len(output.Contents))
			for _, obj := range output.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = s.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: b.Name,
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			}, opt)
			if err := stepErr(err, "delete objects"); err != nil {
				return err
			}
		}

		if output.NextContinuationToken == nil {
			break
		}
		token = output.NextContinuationToken
	}

	_, err = s.s3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: b.Name}, opt)
	return err
}

func (p *Plugin) listPersistentObjects(ctx context.Context, s *Session) ([]bucketObject, error) {
	var objects []bucketObject

	for _, name := range p.opts.PersistentBuckets {
		region, err := bucketRegion(ctx, s, name)
		if hasCode(err, "NoSuchBucket") {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("locate bucket %s: %w", name, err)
		}

		var token *string
		for {
			output, err := s.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(name), ContinuationToken: token}, inRegion(region))
			if err != nil {
				return nil, err
			}

			for _, obj := range output.Contents {
				objects = append(objects, bucketObject{Bucket: name, Region: region, Object: obj})
			}

			if output.NextContinuationToken == nil {
				break
			}
			token = output.NextContinuationToken
		}
	}

	return objects, nil
}

func listIdentities(ctx context.Context, s *Session) ([]string, error) {
	var identities []string
	var nextToken *string

	for {
		output, err := s.ses.ListIdentities(ctx, &ses.ListIdentitiesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		identities = append(identities, output.Identities...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return identities, nil
}

func listReceiptRuleSets(ctx context.Context, s *Session) ([]sestypes.ReceiptRuleSetMetadata, error) {
	var ruleSets []sestypes.ReceiptRuleSetMetadata
	var nextToken *string

	for {
		output, err := s.ses.ListReceiptRuleSets(ctx, &ses.ListReceiptRuleSetsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		ruleSets = append(ruleSets, output.RuleSets...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sesListInterval):
		}
	}

	return ruleSets, nil
}

func listQueues(ctx context.Context, s *Session) ([]string, error) {
	var urls []string
	var nextToken *string

	for {
		output, err := s.sqs.ListQueues(ctx, &sqs.ListQueuesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		urls = append(urls, output.QueueUrls...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return urls, nil
}

func listTables(ctx context.Context, s *Session) ([]string, error) {
	var tables []string
	var start *string

	for {
		output, err := s.dynamodb.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: start})
		if err != nil {
			return nil, err
		}

		tables = append(tables, output.TableNames...)

		if output.LastEvaluatedTableName == nil {
			break
		}
		start = output.LastEvaluatedTableName
	}

	return tables, nil
}

// listRedshiftClusters skips clusters still being created or deleted;
// ClusterCreateTime is absent while a cluster is created.
func listRedshiftClusters(ctx context.Context, s *Session) ([]redshifttypes.Cluster, error) {
	var clusters []redshifttypes.Cluster
	var marker *string

	for {
		output, err := s.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		for _, c := range output.Clusters {
			switch aws.ToString(c.ClusterStatus) {
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

func redshiftNameTag(tags []redshifttypes.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

func listMemoryDBClusters(ctx context.Context, s *Session) ([]mdbtypes.Cluster, error) {
	var clusters []mdbtypes.Cluster
	var nextToken *string

	for {
		output, err := s.memorydb.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		clusters = append(clusters, output.Clusters...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return clusters, nil
}

func listTrails(ctx context.Context, s *Session) ([]cttypes.TrailInfo, error) {
	var trails []cttypes.TrailInfo
	var nextToken *string

	for {
		output, err := s.cloudtrail.ListTrails(ctx, &cloudtrail.ListTrailsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		trails = append(trails, output.Trails...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return trails, nil
}
