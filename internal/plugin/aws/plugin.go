// Package aws implements the AWS resource kinds swept from test accounts.
package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// Defaults for Options.
const (
	DefaultIAMNamePrefix    = "ansible-test"
	DefaultPersistentBucket = "ssm-encrypted-test-bucket"
)

// Options tunes the ignore rules of the AWS kinds.
type Options struct {
	// IAMNamePrefix limits IAM role and instance profile deletion to names
	// with this prefix.
	IAMNamePrefix string

	// PersistentBuckets are never deleted; their objects are swept instead.
	PersistentBuckets []string

	// ProtectedTables are DynamoDB tables never deleted, such as the age
	// store itself.
	ProtectedTables []string
}

// Plugin provides the AWS resource kinds.
type Plugin struct {
	opts Options
}

// New creates the AWS plugin.
func New(opts Options) *Plugin {
	if opts.IAMNamePrefix == "" {
		opts.IAMNamePrefix = DefaultIAMNamePrefix
	}
	if opts.PersistentBuckets == nil {
		opts.PersistentBuckets = []string{DefaultPersistentBucket}
	}
	return &Plugin{opts: opts}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "aws"
}

// Descriptors returns every AWS kind.
func (p *Plugin) Descriptors() []resource.Descriptor {
	var out []resource.Descriptor
	out = append(out, p.computeKinds()...)
	out = append(out, p.networkKinds()...)
	out = append(out, p.serviceKinds()...)
	out = append(out, p.securityKinds()...)
	out = append(out, p.containerKinds()...)
	out = append(out, p.managedKinds()...)
	return out
}

// kindDef is the typed form of a resource.Descriptor.
type kindDef[T any] struct {
	kind      string
	ageLimit  time.Duration
	ageStore  bool
	global    bool
	list      func(ctx context.Context, s *Session) ([]T, error)
	id        func(T) string
	name      func(T) string
	created   func(T) (time.Time, bool)
	ignore    func(ctx context.Context, s *Session, r T) bool
	terminate func(ctx context.Context, s *Session, r T) error
}

func describe[T any](k kindDef[T]) resource.Descriptor {
	d := resource.Descriptor{
		Kind:         k.kind,
		AgeLimit:     k.ageLimit,
		UsesAgeStore: k.ageStore,
		Global:       k.global,
		Enumerate: func(ctx context.Context, sess resource.Session) ([]resource.Record, error) {
			s, err := asSession(sess)
			if err != nil {
				return nil, err
			}
			items, err := k.list(ctx, s)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", k.kind, translate(err))
			}
			records := make([]resource.Record, len(items))
			for i, item := range items {
				records[i] = item
			}
			return records, nil
		},
		Name: func(r resource.Record) string { return k.name(r.(T)) },
		Terminate: func(ctx context.Context, sess resource.Session, r resource.Record) error {
			s, err := asSession(sess)
			if err != nil {
				return err
			}
			return translate(k.terminate(ctx, s, r.(T)))
		},
	}
	if k.id != nil {
		d.ID = func(r resource.Record) string { return k.id(r.(T)) }
	}
	if k.created != nil {
		d.CreatedAt = func(r resource.Record) (time.Time, bool) { return k.created(r.(T)) }
	}
	if k.ignore != nil {
		d.Ignore = func(ctx context.Context, sess resource.Session, r resource.Record) bool {
			s, err := asSession(sess)
			if err != nil {
				return true
			}
			return k.ignore(ctx, s, r.(T))
		}
	}
	return d
}

func timeOf(t *time.Time) (time.Time, bool) {
	if t == nil || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC().Truncate(time.Second), true
}

func parseTime(layout string, value *string) (time.Time, bool) {
	v := aws.ToString(value)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC().Truncate(time.Second), true
}

func nameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

// isDefaultVPC reports whether vpcID is the region's default VPC. A failed
// lookup answers true so the caller leaves the resource alone.
func isDefaultVPC(ctx context.Context, s *Session, vpcID string) bool {
	vpc, err := s.DefaultVPC(ctx)
	if err != nil {
		log.Warn().Err(err).Str("region", s.Region()).Msg("default vpc lookup failed, ignoring dependent resource")
		return true
	}
	return vpc != nil && aws.ToString(vpc.VpcId) == vpcID
}

func hasPrefix(name, prefix string) bool {
	return prefix != "" && strings.HasPrefix(name, prefix)
}
