package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// vpcAgeLimit gives dependent resources time to go first.
const vpcAgeLimit = 40 * time.Minute

func (p *Plugin) networkKinds() []resource.Descriptor {
	return []resource.Descriptor{
		describe(kindDef[r53types.HostedZone]{
			kind:      "Route53HostedZone",
			ageStore:  true,
			global:    true,
			list:      listHostedZones,
			id:        func(z r53types.HostedZone) string { return aws.ToString(z.Id) },
			name:      func(z r53types.HostedZone) string { return aws.ToString(z.Name) },
			terminate: terminateHostedZone,
		}),
		describe(kindDef[ec2types.Address]{
			kind:     "Ec2Eip",
			ageStore: true,
			list:     listAddresses,
			id:       func(a ec2types.Address) string { return aws.ToString(a.AllocationId) },
			name:     func(a ec2types.Address) string { return aws.ToString(a.AllocationId) },
			terminate: func(ctx context.Context, s *Session, a ec2types.Address) error {
				_, err := s.ec2.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: a.AllocationId})
				return err
			},
		}),
		describe(kindDef[ec2types.CustomerGateway]{
			kind:     "Ec2CustomerGateway",
			ageStore: true,
			list:     listCustomerGateways,
			id:       func(g ec2types.CustomerGateway) string { return aws.ToString(g.CustomerGatewayId) },
			name:     func(g ec2types.CustomerGateway) string { return nameTag(g.Tags) },
			ignore: func(_ context.Context, _ *Session, g ec2types.CustomerGateway) bool {
				return aws.ToString(g.State) == "deleted"
			},
			terminate: func(ctx context.Context, s *Session, g ec2types.CustomerGateway) error {
				_, err := s.ec2.DeleteCustomerGateway(ctx, &ec2.DeleteCustomerGatewayInput{CustomerGatewayId: g.CustomerGatewayId})
				return err
			},
		}),
		describe(kindDef[ec2types.DhcpOptions]{
			kind:     "DhcpOptionsSet",
			ageStore: true,
			list:     listDhcpOptions,
			id:       func(o ec2types.DhcpOptions) string { return aws.ToString(o.DhcpOptionsId) },
			name:     func(o ec2types.DhcpOptions) string { return aws.ToString(o.DhcpOptionsId) },
			ignore:   isDefaultDhcpOptions,
			terminate: func(ctx context.Context, s *Session, o ec2types.DhcpOptions) error {
				_, err := s.ec2.DeleteDhcpOptions(ctx, &ec2.DeleteDhcpOptionsInput{DhcpOptionsId: o.DhcpOptionsId})
				return err
			},
		}),
		describe(kindDef[ec2types.Subnet]{
			kind:     "Ec2Subnet",
			ageStore: true,
			list:     listSubnets,
			id:       func(sn ec2types.Subnet) string { return aws.ToString(sn.SubnetId) },
			name:     func(sn ec2types.Subnet) string { return nameTag(sn.Tags) },
			ignore: func(_ context.Context, _ *Session, sn ec2types.Subnet) bool {
				return aws.ToBool(sn.DefaultForAz)
			},
			terminate: func(ctx context.Context, s *Session, sn ec2types.Subnet) error {
				_, err := s.ec2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: sn.SubnetId})
				return err
			},
		}),
		describe(kindDef[ec2types.InternetGateway]{
			kind:     "Ec2InternetGateway",
			ageStore: true,
			list:     listInternetGateways,
			id:       func(g ec2types.InternetGateway) string { return aws.ToString(g.InternetGatewayId) },
			name:     func(g ec2types.InternetGateway) string { return nameTag(g.Tags) },
			ignore: func(ctx context.Context, s *Session, g ec2types.InternetGateway) bool {
				for _, vpcID := range gatewayAttachments(g) {
					if isDefaultVPC(ctx, s, vpcID) {
						return true
					}
				}
				return false
			},
			terminate: terminateInternetGateway,
		}),
		describe(kindDef[ec2types.EgressOnlyInternetGateway]{
			kind:     "Ec2EgressInternetGateway",
			ageStore: true,
			list:     listEgressOnlyInternetGateways,
			id: func(g ec2types.EgressOnlyInternetGateway) string {
				return aws.ToString(g.EgressOnlyInternetGatewayId)
			},
			name: func(g ec2types.EgressOnlyInternetGateway) string {
				return aws.ToString(g.EgressOnlyInternetGatewayId)
			},
			terminate: func(ctx context.Context, s *Session, g ec2types.EgressOnlyInternetGateway) error {
				_, err := s.ec2.DeleteEgressOnlyInternetGateway(ctx, &ec2.DeleteEgressOnlyInternetGatewayInput{
					EgressOnlyInternetGatewayId: g.EgressOnlyInternetGatewayId,
				})
				return err
			},
		}),
		describe(kindDef[ec2types.NatGateway]{
			kind:     "Ec2NatGateway",
			ageStore: true,
			list:     listNatGateways,
			id:       func(g ec2types.NatGateway) string { return aws.ToString(g.NatGatewayId) },
			name:     func(g ec2types.NatGateway) string { return nameTag(g.Tags) },
			ignore: func(_ context.Context, _ *Session, g ec2types.NatGateway) bool {
				return g.State == ec2types.NatGatewayStateDeleted || g.State == ec2types.NatGatewayStateDeleting
			},
			terminate: func(ctx context.Context, s *Session, g ec2types.NatGateway) error {
				_, err := s.ec2.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{NatGatewayId: g.NatGatewayId})
				return err
			},
		}),
		describe(kindDef[ec2types.NetworkAcl]{
			kind:     "Ec2NetworkAcl",
			ageStore: true,
			list:     listNetworkAcls,
			id:       func(a ec2types.NetworkAcl) string { return aws.ToString(a.NetworkAclId) },
			name:     func(a ec2types.NetworkAcl) string { return nameTag(a.Tags) },
			ignore: func(_ context.Context, _ *Session, a ec2types.NetworkAcl) bool {
				return aws.ToBool(a.IsDefault)
			},
			terminate: func(ctx context.Context, s *Session, a ec2types.NetworkAcl) error {
				_, err := s.ec2.DeleteNetworkAcl(ctx, &ec2.DeleteNetworkAclInput{NetworkAclId: a.NetworkAclId})
				return err
			},
		}),
		describe(kindDef[ec2types.NetworkInterface]{
			kind:     "Ec2Eni",
			ageStore: true,
			list:     listNetworkInterfaces,
			id:       func(n ec2types.NetworkInterface) string { return aws.ToString(n.NetworkInterfaceId) },
			name:     func(n ec2types.NetworkInterface) string { return nameTag(n.TagSet) },
			terminate: func(ctx context.Context, s *Session, n ec2types.NetworkInterface) error {
				_, err := s.ec2.DeleteNetworkInterface(ctx, &ec2.DeleteNetworkInterfaceInput{NetworkInterfaceId: n.NetworkInterfaceId})
				return err
			},
		}),
		describe(kindDef[ec2types.RouteTable]{
			kind:     "Ec2RouteTable",
			ageStore: true,
			list:     listRouteTables,
			id:       func(rt ec2types.RouteTable) string { return aws.ToString(rt.RouteTableId) },
			name:     func(rt ec2types.RouteTable) string { return nameTag(rt.Tags) },
			ignore: func(_ context.Context, _ *Session, rt ec2types.RouteTable) bool {
				for _, assoc := range rt.Associations {
					if aws.ToBool(assoc.Main) {
						return true
					}
				}
				return false
			},
			terminate: terminateRouteTable,
		}),
		describe(kindDef[ec2types.VpcEndpoint]{
			kind:    "Ec2VpcEndpoint",
			list:    listVpcEndpoints,
			id:      func(e ec2types.VpcEndpoint) string { return aws.ToString(e.VpcEndpointId) },
			name:    func(e ec2types.VpcEndpoint) string { return aws.ToString(e.ServiceName) },
			created: func(e ec2types.VpcEndpoint) (time.Time, bool) { return timeOf(e.CreationTimestamp) },
			terminate: func(ctx context.Context, s *Session, e ec2types.VpcEndpoint) error {
				_, err := s.ec2.DeleteVpcEndpoints(ctx, &ec2.DeleteVpcEndpointsInput{VpcEndpointIds: []string{aws.ToString(e.VpcEndpointId)}})
				return err
			},
		}),
		describe(kindDef[ec2types.Vpc]{
			kind:     "Ec2Vpc",
			ageLimit: vpcAgeLimit,
			ageStore: true,
			list:     listVpcs,
			id:       func(v ec2types.Vpc) string { return aws.ToString(v.VpcId) },
			name:     func(v ec2types.Vpc) string { return nameTag(v.Tags) },
			ignore: func(_ context.Context, _ *Session, v ec2types.Vpc) bool {
				return aws.ToBool(v.IsDefault)
			},
			terminate: func(ctx context.Context, s *Session, v ec2types.Vpc) error {
				_, err := s.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: v.VpcId})
				return err
			},
		}),
		describe(kindDef[ec2types.VpnConnection]{
			kind:     "Ec2VpnConnection",
			ageStore: true,
			list:     listVpnConnections,
			id:       func(c ec2types.VpnConnection) string { return aws.ToString(c.VpnConnectionId) },
			name:     func(c ec2types.VpnConnection) string { return nameTag(c.Tags) },
			ignore: func(_ context.Context, _ *Session, c ec2types.VpnConnection) bool {
				return c.State == ec2types.VpnStateDeleted
			},
			terminate: func(ctx context.Context, s *Session, c ec2types.VpnConnection) error {
				_, err := s.ec2.DeleteVpnConnection(ctx, &ec2.DeleteVpnConnectionInput{VpnConnectionId: c.VpnConnectionId})
				return err
			},
		}),
		describe(kindDef[ec2types.VpnGateway]{
			kind:     "Ec2VpnGateway",
			ageStore: true,
			list:     listVpnGateways,
			id:       func(g ec2types.VpnGateway) string { return aws.ToString(g.VpnGatewayId) },
			name:     func(g ec2types.VpnGateway) string { return nameTag(g.Tags) },
			ignore: func(_ context.Context, _ *Session, g ec2types.VpnGateway) bool {
				return g.State == ec2types.VpnStateDeleted
			},
			terminate: terminateVpnGateway,
		}),
		describe(kindDef[ec2types.SecurityGroup]{
			kind:     "Ec2SecurityGroup",
			ageStore: true,
			list:     listSecurityGroups,
			id:       func(g ec2types.SecurityGroup) string { return aws.ToString(g.GroupId) },
			name:     func(g ec2types.SecurityGroup) string { return aws.ToString(g.GroupName) },
			ignore: func(_ context.Context, _ *Session, g ec2types.SecurityGroup) bool {
				name := aws.ToString(g.GroupName)
				return name == "default" || strings.HasPrefix(name, "default_elb_")
			},
			terminate: func(ctx context.Context, s *Session, g ec2types.SecurityGroup) error {
				_, err := s.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: g.GroupId})
				return err
			},
		}),
	}
}

func listHostedZones(ctx context.Context, s *Session) ([]r53types.HostedZone, error) {
	var zones []r53types.HostedZone
	var marker *string

	for {
		output, err := s.route53.ListHostedZones(ctx, &route53.ListHostedZonesInput{Marker: marker})
		if err != nil {
			return nil, err
		}

		zones = append(zones, output.HostedZones...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return zones, nil
}

// terminateHostedZone removes every record set except the zone's own SOA and
// NS records, then the zone.
func terminateHostedZone(ctx context.Context, s *Session, z r53types.HostedZone) error {
	var (
		changes    []r53types.Change
		recordName *string
		recordType r53types.RRType
	)

	for {
		output, err := s.route53.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
			HostedZoneId:    z.Id,
			StartRecordName: recordName,
			StartRecordType: recordType,
		})
		if err != nil {
			return fmt.Errorf("list record sets: %w", err)
		}

		for _, rs := range output.ResourceRecordSets {
			if rs.Type == r53types.RRTypeSoa || rs.Type == r53types.RRTypeNs {
				continue
			}
			record := rs
			changes = append(changes, r53types.Change{Action: r53types.ChangeActionDelete, ResourceRecordSet: &record})
		}

		if output.NextRecordName == nil {
			break
		}
		recordName = output.NextRecordName
		recordType = output.NextRecordType
	}

	if len(changes) > 0 {
		_, err := s.route53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
			HostedZoneId: z.Id,
			ChangeBatch: &r53types.ChangeBatch{
				Comment: aws.String("Remove record sets"),
				Changes: changes,
			},
		})
		if err := stepErr(err, "remove record sets"); err != nil {
			return err
		}
	}

	_, err := s.route53.DeleteHostedZone(ctx, &route53.DeleteHostedZoneInput{Id: z.Id})
	return err
}

func listAddresses(ctx context.Context, s *Session) ([]ec2types.Address, error) {
	output, err := s.ec2.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, err
	}
	return output.Addresses, nil
}

func listCustomerGateways(ctx context.Context, s *Session) ([]ec2types.CustomerGateway, error) {
	output, err := s.ec2.DescribeCustomerGateways(ctx, &ec2.DescribeCustomerGatewaysInput{})
	if err != nil {
		return nil, err
	}
	return output.CustomerGateways, nil
}

func listDhcpOptions(ctx context.Context, s *Session) ([]ec2types.DhcpOptions, error) {
	var options []ec2types.DhcpOptions
	var nextToken *string

	for {
		output, err := s.ec2.DescribeDhcpOptions(ctx, &ec2.DescribeDhcpOptionsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		options = append(options, output.DhcpOptions...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return options, nil
}

func isDefaultDhcpOptions(ctx context.Context, s *Session, o ec2types.DhcpOptions) bool {
	vpc, err := s.DefaultVPC(ctx)
	if err != nil {
		log.Warn().Err(err).Str("region", s.Region()).Msg("default vpc lookup failed, ignoring dhcp options")
		return true
	}
	return vpc != nil && aws.ToString(vpc.DhcpOptionsId) == aws.ToString(o.DhcpOptionsId)
}

func listSubnets(ctx context.Context, s *Session) ([]ec2types.Subnet, error) {
	var subnets []ec2types.Subnet
	var nextToken *string

	for {
		output, err := s.ec2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		subnets = append(subnets, output.Subnets...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return subnets, nil
}

func listInternetGateways(ctx context.Context, s *Session) ([]ec2types.InternetGateway, error) {
	var gateways []ec2types.InternetGateway
	var nextToken *string

	for {
		output, err := s.ec2.DescribeInternetGateways(ctx, &ec2.DescribeInternetGatewaysInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		gateways = append(gateways, output.InternetGateways...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return gateways, nil
}

func gatewayAttachments(g ec2types.InternetGateway) []string {
	var vpcs []string
	for _, a := range g.Attachments {
		if id := aws.ToString(a.VpcId); id != "" {
			vpcs = append(vpcs, id)
		}
	}
	return vpcs
}

func terminateInternetGateway(ctx context.Context, s *Session, g ec2types.InternetGateway) error {
	for _, vpcID := range gatewayAttachments(g) {
		_, err := s.ec2.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: g.InternetGatewayId,
			VpcId:             aws.String(vpcID),
		})
		if err := stepErr(err, "detach from "+vpcID); err != nil {
			return err
		}
	}

	_, err := s.ec2.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: g.InternetGatewayId})
	return err
}

func listEgressOnlyInternetGateways(ctx context.Context, s *Session) ([]ec2types.EgressOnlyInternetGateway, error) {
	var gateways []ec2types.EgressOnlyInternetGateway
	var nextToken *string

	for {
		output, err := s.ec2.DescribeEgressOnlyInternetGateways(ctx, &ec2.DescribeEgressOnlyInternetGatewaysInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		gateways = append(gateways, output.EgressOnlyInternetGateways...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return gateways, nil
}

func listNatGateways(ctx context.Context, s *Session) ([]ec2types.NatGateway, error) {
	var gateways []ec2types.NatGateway
	var nextToken *string

	for {
		output, err := s.ec2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		gateways = append(gateways, output.NatGateways...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return gateways, nil
}

func listNetworkAcls(ctx context.Context, s *Session) ([]ec2types.NetworkAcl, error) {
	var acls []ec2types.NetworkAcl
	var nextToken *string

	for {
		output, err := s.ec2.DescribeNetworkAcls(ctx, &ec2.DescribeNetworkAclsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		acls = append(acls, output.NetworkAcls...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return acls, nil
}

func listNetworkInterfaces(ctx context.Context, s *Session) ([]ec2types.NetworkInterface, error) {
	var interfaces []ec2types.NetworkInterface
	var nextToken *string

	for {
		output, err := s.ec2.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		interfaces = append(interfaces, output.NetworkInterfaces...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return interfaces, nil
}

func listRouteTables(ctx context.Context, s *Session) ([]ec2types.RouteTable, error) {
	var tables []ec2types.RouteTable
	var nextToken *string

	for {
		output, err := s.ec2.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		tables = append(tables, output.RouteTables...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return tables, nil
}

func terminateRouteTable(ctx context.Context, s *Session, rt ec2types.RouteTable) error {
	for _, assoc := range rt.Associations {
		if assoc.RouteTableAssociationId == nil {
			continue
		}
		_, err := s.ec2.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{AssociationId: assoc.RouteTableAssociationId})
		if err := stepErr(err, "disassociate "+aws.ToString(assoc.RouteTableAssociationId)); err != nil {
			return err
		}
	}

	_, err := s.ec2.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: rt.RouteTableId})
	return err
}

func listVpcEndpoints(ctx context.Context, s *Session) ([]ec2types.VpcEndpoint, error) {
	var endpoints []ec2types.VpcEndpoint
	var nextToken *string

	for {
		output, err := s.ec2.DescribeVpcEndpoints(ctx, &ec2.DescribeVpcEndpointsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		endpoints = append(endpoints, output.VpcEndpoints...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return endpoints, nil
}

func listVpcs(ctx context.Context, s *Session) ([]ec2types.Vpc, error) {
	var vpcs []ec2types.Vpc
	var nextToken *string

	for {
		output, err := s.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		vpcs = append(vpcs, output.Vpcs...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return vpcs, nil
}

func listVpnConnections(ctx context.Context, s *Session) ([]ec2types.VpnConnection, error) {
	output, err := s.ec2.DescribeVpnConnections(ctx, &ec2.DescribeVpnConnectionsInput{})
	if err != nil {
		return nil, err
	}
	return output.VpnConnections, nil
}

func listVpnGateways(ctx context.Context, s *Session) ([]ec2types.VpnGateway, error) {
	output, err := s.ec2.DescribeVpnGateways(ctx, &ec2.DescribeVpnGatewaysInput{})
	if err != nil {
		return nil, err
	}
	return output.VpnGateways, nil
}

// terminateVpnGateway detaches the gateway from every VPC it is attached or
// attaching to before deleting it.
func terminateVpnGateway(ctx context.Context, s *Session, g ec2types.VpnGateway) error {
	for _, a := range g.VpcAttachments {
		if !strings.HasPrefix(string(a.State), "attach") {
			continue
		}
		_, err := s.ec2.DetachVpnGateway(ctx, &ec2.DetachVpnGatewayInput{VpcId: a.VpcId, VpnGatewayId: g.VpnGatewayId})
		if err := stepErr(err, "detach from "+aws.ToString(a.VpcId)); err != nil {
			return err
		}
	}

	_, err := s.ec2.DeleteVpnGateway(ctx, &ec2.DeleteVpnGatewayInput{VpnGatewayId: g.VpnGatewayId})
	return err
}

func listSecurityGroups(ctx context.Context, s *Session) ([]ec2types.SecurityGroup, error) {
	var groups []ec2types.SecurityGroup
	var nextToken *string

	for {
		output, err := s.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: nextToken})
		if err != nil {
			return nil, err
		}

		groups = append(groups, output.SecurityGroups...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return groups, nil
}
