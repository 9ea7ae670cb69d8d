package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// kmsPendingWindowDays is the shortest deletion window KMS accepts.
const kmsPendingWindowDays = 7

func (p *Plugin) securityKinds() []resource.Descriptor {
	rolePrefix := p.opts.IAMNamePrefix
	profilePrefix := strings.TrimSuffix(rolePrefix, "-") + "-"

	return []resource.Descriptor{
		describe(kindDef[iamtypes.Role]{
			kind:    "IamRole",
			global:  true,
			list:    listRoles,
			id:      func(r iamtypes.Role) string { return aws.ToString(r.RoleId) },
			name:    func(r iamtypes.Role) string { return aws.ToString(r.RoleName) },
			created: func(r iamtypes.Role) (time.Time, bool) { return timeOf(r.CreateDate) },
			ignore: func(_ context.Context, _ *Session, r iamtypes.Role) bool {
				return !hasPrefix(aws.ToString(r.RoleName), rolePrefix)
			},
			terminate: terminateRole,
		}),
		describe(kindDef[iamtypes.InstanceProfile]{
			kind:    "IamInstanceProfile",
			global:  true,
			list:    listInstanceProfiles,
			id:      func(ip iamtypes.InstanceProfile) string { return aws.ToString(ip.InstanceProfileId) },
			name:    func(ip iamtypes.InstanceProfile) string { return aws.ToString(ip.InstanceProfileName) },
			created: func(ip iamtypes.InstanceProfile) (time.Time, bool) { return timeOf(ip.CreateDate) },
			ignore: func(_ context.Context, _ *Session, ip iamtypes.InstanceProfile) bool {
				return !hasPrefix(aws.ToString(ip.InstanceProfileName), profilePrefix)
			},
			terminate: terminateInstanceProfile,
		}),
		describe(kindDef[kmstypes.KeyMetadata]{
			kind:    "KmsKey",
			list:    listKeys,
			id:      func(k kmstypes.KeyMetadata) string { return aws.ToString(k.KeyId) },
			name:    func(k kmstypes.KeyMetadata) string { return aws.ToString(k.Arn) },
			created: func(k kmstypes.KeyMetadata) (time.Time, bool) { return timeOf(k.CreationDate) },
			ignore: func(_ context.Context, _ *Session, k kmstypes.KeyMetadata) bool {
				switch {
				case k.KeyManager == kmstypes.KeyManagerTypeAws:
					return true
				case k.KeyState == kmstypes.KeyStatePendingDeletion, k.KeyState == kmstypes.KeyStatePendingReplicaDeletion:
					return true
				}
				return false
			},
			terminate: func(ctx context.Context, s *Session, k kmstypes.KeyMetadata) error {
				_, err := s.kms.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
					KeyId:               k.KeyId,
					PendingWindowInDays: aws.Int32(kmsPendingWindowDays),
				})
				return err
			},
		}),
	}
}

func listRoles(ctx context.Context, s *Session) ([]iamtypes.Role, error) {
	var roles []iamtypes.Role
	var marker *string

	for {
		output, err := s.iam.ListRoles(ctx, &iam.ListRolesInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		roles = append(roles, output.Roles...)

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return roles, nil
}

// terminateRole deletes the role, detaching its policies first when IAM
// reports a conflict.
func terminateRole(ctx context.Context, s *Session, r iamtypes.Role) error {
	_, err := s.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: r.RoleName})
	if err == nil || !hasCode(err, "DeleteConflict") {
		return err
	}

	attached, err := s.iam.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{RoleName: r.RoleName})
	if err != nil {
		return fmt.Errorf("list attached policies: %w", err)
	}
	for _, policy := range attached.AttachedPolicies {
		_, err := s.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{RoleName: r.RoleName, PolicyArn: policy.PolicyArn})
		if err := stepErr(err, "detach policy "+aws.ToString(policy.PolicyArn)); err != nil {
			return err
		}
	}

	inline, err := s.iam.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: r.RoleName})
	if err != nil {
		return fmt.Errorf("list inline policies: %w", err)
	}
	for _, name := range inline.PolicyNames {
		_, err := s.iam.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{RoleName: r.RoleName, PolicyName: aws.String(name)})
		if err := stepErr(err, "delete inline policy "+name); err != nil {
			return err
		}
	}

	_, err = s.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: r.RoleName})
	return err
}

func listInstanceProfiles(ctx context.Context, s *Session) ([]iamtypes.InstanceProfile, error) {
	var profiles []iamtypes.InstanceProfile
	var marker *string

	for {
		output, err := s.iam.ListInstanceProfiles(ctx, &iam.ListInstanceProfilesInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		profiles = append(profiles, output.InstanceProfiles...)

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return profiles, nil
}

func terminateInstanceProfile(ctx context.Context, s *Session, ip iamtypes.InstanceProfile) error {
	for _, role := range ip.Roles {
		_, err := s.iam.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: ip.InstanceProfileName,
			RoleName:            role.RoleName,
		})
		if err := stepErr(err, "remove role "+aws.ToString(role.RoleName)); err != nil {
			return err
		}
	}

	_, err := s.iam.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{InstanceProfileName: ip.InstanceProfileName})
	return err
}

// listKeys describes every key; ListKeys alone carries no metadata.
func listKeys(ctx context.Context, s *Session) ([]kmstypes.KeyMetadata, error) {
	var keys []kmstypes.KeyMetadata
	var marker *string

	for {
		output, err := s.kms.ListKeys(ctx, &kms.ListKeysInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		for _, entry := range output.Keys {
			described, err := s.kms.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: entry.KeyId})
			if err != nil {
				return nil, fmt.Errorf("describe key %s: %w", aws.ToString(entry.KeyId), err)
			}
			if described.KeyMetadata != nil {
				keys = append(keys, *described.KeyMetadata)
			}
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return keys, nil
}
