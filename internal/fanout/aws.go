package fanout

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sts"

	awsplugin "github.com/yairfalse/sweeper/internal/plugin/aws"
	"github.com/yairfalse/sweeper/pkg/resource"
)

// AWSConnector opens AWS accounts, assuming a role for every account other
// than the caller's own.
type AWSConnector struct {
	Region      string
	Profile     string
	SessionName string

	// RoleARN maps an account id to the role assumed in it.
	RoleARN func(account string) string
}

// Caller returns the account of the base credentials.
func (c *AWSConnector) Caller(ctx context.Context) (string, error) {
	cfg, err := awsplugin.LoadConfig(ctx, awsplugin.SessionConfig{Region: c.Region, Profile: c.Profile})
	if err != nil {
		return "", err
	}
	return awsplugin.CallerAccount(ctx, sts.NewFromConfig(cfg))
}

// Connect opens account. The resolved identity must match the requested
// account.
func (c *AWSConnector) Connect(ctx context.Context, account string) (Account, error) {
	sc := awsplugin.SessionConfig{Region: c.Region, Profile: c.Profile, SessionName: c.SessionName}
	if account != "" && c.RoleARN != nil {
		sc.RoleARN = c.RoleARN(account)
	}

	cfg, err := awsplugin.LoadConfig(ctx, sc)
	if err != nil {
		return nil, err
	}
	sess, err := awsplugin.NewSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if account != "" && sess.Account() != account {
		return nil, fmt.Errorf("assumed role landed in account %s, want %s", sess.Account(), account)
	}
	return awsAccount{sess}, nil
}

type awsAccount struct {
	*awsplugin.Session
}

func (a awsAccount) InRegion(region string) resource.Session {
	if region == a.Region() {
		return a.Session
	}
	return a.ForRegion(region)
}
