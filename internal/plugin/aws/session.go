package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// SessionConfig selects the credentials for one account.
type SessionConfig struct {
	Region  string
	Profile string

	// RoleARN, when set, is assumed on top of the base credentials.
	RoleARN     string
	SessionName string
}

// Session is the per (account, region) handle the AWS kinds operate on.
// It implements resource.Session.
type Session struct {
	account string
	region  string
	cfg     aws.Config

	ec2         EC2API
	elb         ELBAPI
	ecr         ECRAPI
	lambda      LambdaAPI
	rds         RDSAPI
	route53     Route53API
	logs        CloudWatchLogsAPI
	s3          S3API
	ses         SESAPI
	sqs         SQSAPI
	dynamodb    DynamoDBAPI
	redshift    RedshiftAPI
	iam         IAMAPI
	autoscaling AutoScalingAPI
	eks         EKSAPI
	ecs         ECSAPI
	kms         KMSAPI
	memorydb    MemoryDBAPI
	cloudtrail  CloudTrailAPI
	classicELB  ClassicELBAPI
	cloudwatch  CloudWatchAPI
	ssm         SSMAPI
	sns         SNSAPI
	sfn         SFNAPI
	kinesis     KinesisAPI
	acm         ACMAPI
	efs         EFSAPI
	elasticache ElastiCacheAPI

	vpcOnce    sync.Once
	defaultVPC *ec2types.Vpc
	vpcErr     error
}

// LoadConfig loads the SDK configuration for sc, assuming sc.RoleARN when
// set.
func LoadConfig(ctx context.Context, sc SessionConfig) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(sc.Region)}
	if sc.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(sc.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	if sc.RoleARN != "" {
		name := sc.SessionName
		if name == "" {
			name = "sweeper"
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), sc.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = name
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return cfg, nil
}

// NewSession builds every service client from cfg and resolves the caller
// account.
func NewSession(ctx context.Context, cfg aws.Config) (*Session, error) {
	account, err := CallerAccount(ctx, sts.NewFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	return newSession(cfg, account), nil
}

// CallerAccount returns the account id of the credentials behind client.
func CallerAccount(ctx context.Context, client STSAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", translate(err))
	}
	account := aws.ToString(out.Account)
	if account == "" {
		return "", errors.New("get caller identity: empty account")
	}
	return account, nil
}

func newSession(cfg aws.Config, account string) *Session {
	return &Session{
		account:     account,
		region:      cfg.Region,
		cfg:         cfg,
		ec2:         ec2.NewFromConfig(cfg),
		elb:         elasticloadbalancingv2.NewFromConfig(cfg),
		ecr:         ecr.NewFromConfig(cfg),
		lambda:      lambda.NewFromConfig(cfg),
		rds:         rds.NewFromConfig(cfg),
		route53:     route53.NewFromConfig(cfg),
		logs:        cloudwatchlogs.NewFromConfig(cfg),
		s3:          s3.NewFromConfig(cfg),
		ses:         ses.NewFromConfig(cfg),
		sqs:         sqs.NewFromConfig(cfg),
		dynamodb:    dynamodb.NewFromConfig(cfg),
		redshift:    redshift.NewFromConfig(cfg),
		iam:         iam.NewFromConfig(cfg),
		autoscaling: autoscaling.NewFromConfig(cfg),
		eks:         eks.NewFromConfig(cfg),
		ecs:         ecs.NewFromConfig(cfg),
		kms:         kms.NewFromConfig(cfg),
		memorydb:    memorydb.NewFromConfig(cfg),
		cloudtrail:  cloudtrail.NewFromConfig(cfg),
		classicELB:  elasticloadbalancing.NewFromConfig(cfg),
		cloudwatch:  cloudwatch.NewFromConfig(cfg),
		ssm:         ssm.NewFromConfig(cfg),
		sns:         sns.NewFromConfig(cfg),
		sfn:         sfn.NewFromConfig(cfg),
		kinesis:     kinesis.NewFromConfig(cfg),
		acm:         acm.NewFromConfig(cfg),
		efs:         efs.NewFromConfig(cfg),
		elasticache: elasticache.NewFromConfig(cfg),
	}
}

// ForRegion returns a session for the same account in another region.
func (s *Session) ForRegion(region string) *Session {
	cfg := s.cfg.Copy()
	cfg.Region = region
	return newSession(cfg, s.account)
}

// Account returns the account id.
func (s *Session) Account() string { return s.account }

// Region returns the region name.
func (s *Session) Region() string { return s.region }

// Config returns the SDK configuration the session was built from.
func (s *Session) Config() aws.Config { return s.cfg }

// EnabledRegions lists the regions enabled for the account, sorted.
func (s *Session) EnabledRegions(ctx context.Context) ([]string, error) {
	out, err := s.ec2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", translate(err))
	}

	regions := make([]string, 0, len(out.Regions))
	for _, r := range out.Regions {
		if name := aws.ToString(r.RegionName); name != "" {
			regions = append(regions, name)
		}
	}
	sort.Strings(regions)
	return regions, nil
}

// DefaultVPC returns the region's default VPC, or nil when there is none.
// The lookup runs once per session.
func (s *Session) DefaultVPC(ctx context.Context) (*ec2types.Vpc, error) {
	s.vpcOnce.Do(func() {
		out, err := s.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
			Filters: []ec2types.Filter{{Name: aws.String("isDefault"), Values: []string{"true"}}},
		})
		if err != nil {
			s.vpcErr = fmt.Errorf("describe default vpc: %w", translate(err))
			return
		}
		if len(out.Vpcs) > 0 {
			vpc := out.Vpcs[0]
			s.defaultVPC = &vpc
		}
	})
	return s.defaultVPC, s.vpcErr
}

func asSession(sess resource.Session) (*Session, error) {
	s, ok := sess.(*Session)
	if !ok {
		return nil, fmt.Errorf("aws kinds need an aws session, got %T", sess)
	}
	return s, nil
}
