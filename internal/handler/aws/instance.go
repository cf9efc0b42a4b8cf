package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// InstanceHandler discovers and terminates EC2 instances.
type InstanceHandler struct {
	client EC2API
}

// Kind returns resource.KindComputeInstance.
func (h *InstanceHandler) Kind() resource.Kind { return resource.KindComputeInstance }

// Discover lists every instance that is not already terminated.
func (h *InstanceHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := ec2.NewDescribeInstancesPaginator(h.client, &ec2.DescribeInstancesInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("describe instances", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State != nil && instance.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				descriptors = append(descriptors, convertInstance(instance))
			}
		}
	}

	return descriptors, nil
}

func convertInstance(instance ec2types.Instance) resource.Descriptor {
	id := aws.ToString(instance.InstanceId)
	d := newDescriptor(resource.KindComputeInstance, id, ec2DisplayName(id, instance.Tags))
	addEC2Tags(&d, instance.Tags)
	if instance.State != nil {
		d.Attributes["state"] = string(instance.State.Name)
	}
	d.Attributes["instance_type"] = string(instance.InstanceType)
	if instance.Placement != nil {
		setIfNotEmpty(&d, "az", aws.ToString(instance.Placement.AvailabilityZone))
	}
	setIfNotEmpty(&d, "launched", formatDate(instance.LaunchTime))
	return d
}

// Delete clears termination and stop protection, then terminates the
// instance. Clearing protection is best effort: a failure is logged and
// termination is still attempted.
func (h *InstanceHandler) Delete(ctx context.Context, id string) error {
	h.clearProtection(ctx, id, "termination", &ec2.ModifyInstanceAttributeInput{
		InstanceId:            aws.String(id),
		DisableApiTermination: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
	})
	h.clearProtection(ctx, id, "stop", &ec2.ModifyInstanceAttributeInput{
		InstanceId:     aws.String(id),
		DisableApiStop: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
	})

	if _, err := h.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}}); err != nil {
		return resource.NewProviderError("terminate instance", err)
	}
	return nil
}

func (h *InstanceHandler) clearProtection(ctx context.Context, id, protection string, input *ec2.ModifyInstanceAttributeInput) {
	if _, err := h.client.ModifyInstanceAttribute(ctx, input); err != nil {
		log.Warn().Err(err).
			Str("kind", string(resource.KindComputeInstance)).
			Str("resource_id", id).
			Str("protection", protection).
			Msg("failed to clear protection, terminating anyway")
	}
}
