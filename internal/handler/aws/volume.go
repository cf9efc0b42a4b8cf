package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// VolumeHandler discovers and deletes EBS volumes. An attached volume is
// detached and waited on until available before the delete call.
type VolumeHandler struct {
	client        EC2API
	detachTimeout time.Duration
	minDelay      time.Duration
	maxDelay      time.Duration
}

// Kind returns resource.KindBlockVolume.
func (h *VolumeHandler) Kind() resource.Kind { return resource.KindBlockVolume }

// Discover lists every volume in the region.
func (h *VolumeHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := ec2.NewDescribeVolumesPaginator(h.client, &ec2.DescribeVolumesInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("describe volumes", err)
		}

		for _, vol := range output.Volumes {
			descriptors = append(descriptors, convertVolume(vol))
		}
	}

	return descriptors, nil
}

func convertVolume(vol ec2types.Volume) resource.Descriptor {
	id := aws.ToString(vol.VolumeId)
	d := newDescriptor(resource.KindBlockVolume, id, ec2DisplayName(id, vol.Tags))
	addEC2Tags(&d, vol.Tags)
	d.Attributes["state"] = string(vol.State)
	d.Attributes["size_gib"] = strconv.Itoa(int(aws.ToInt32(vol.Size)))
	d.Attributes["type"] = string(vol.VolumeType)
	setIfNotEmpty(&d, "az", aws.ToString(vol.AvailabilityZone))

	var attachedTo []string
	for _, att := range vol.Attachments {
		attachedTo = append(attachedTo, aws.ToString(att.InstanceId))
	}
	setIfNotEmpty(&d, "attached_to", strings.Join(attachedTo, ","))
	return d
}

// Delete detaches the volume if needed, waits for it to become available,
// then deletes it. A failed detach or wait skips the delete call.
func (h *VolumeHandler) Delete(ctx context.Context, id string) error {
	output, err := h.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{id}})
	if err != nil {
		return resource.NewProviderError("describe volume", err)
	}
	if len(output.Volumes) == 0 {
		return resource.NewProviderError("describe volume", fmt.Errorf("volume %s not found", id))
	}
	vol := output.Volumes[0]

	if vol.State != ec2types.VolumeStateAvailable {
		if err := h.detach(ctx, id, vol.Attachments); err != nil {
			return err
		}
		if err := h.waitAvailable(ctx, id); err != nil {
			return err
		}
	}

	if _, err := h.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)}); err != nil {
		return resource.NewProviderError("delete volume", err)
	}
	return nil
}

func (h *VolumeHandler) detach(ctx context.Context, id string, attachments []ec2types.VolumeAttachment) error {
	for _, att := range attachments {
		if att.State != ec2types.VolumeAttachmentStateAttached && att.State != ec2types.VolumeAttachmentStateAttaching {
			continue
		}
		instanceID := aws.ToString(att.InstanceId)
		log.Info().
			Str("kind", string(resource.KindBlockVolume)).
			Str("resource_id", id).
			Str("instance_id", instanceID).
			Msg("detaching volume")

		_, err := h.client.DetachVolume(ctx, &ec2.DetachVolumeInput{
			VolumeId:   aws.String(id),
			InstanceId: att.InstanceId,
		})
		if err != nil {
			return &resource.PreconditionError{
				Step: "detach",
				Err:  resource.NewProviderError("detach volume from "+instanceID, err),
			}
		}
	}
	return nil
}

// waitAvailable blocks until the volume is available, bounded by the detach
// timeout and by the caller's deadline, whichever is sooner.
func (h *VolumeHandler) waitAvailable(ctx context.Context, id string) error {
	maxWait := h.detachTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < maxWait {
			maxWait = remaining
		}
	}
	if maxWait <= 0 {
		return &resource.PreconditionError{Step: "wait-available", Timeout: true, Err: context.DeadlineExceeded}
	}

	deadline := time.Now().Add(maxWait)
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	waiter := ec2.NewVolumeAvailableWaiter(h.client, func(o *ec2.VolumeAvailableWaiterOptions) {
		o.MinDelay = h.minDelay
		o.MaxDelay = h.maxDelay
	})

	err := waiter.Wait(waitCtx, &ec2.DescribeVolumesInput{VolumeIds: []string{id}}, maxWait)
	if err == nil {
		return nil
	}
	if h.waitExpired(waitCtx, deadline, err) {
		return &resource.PreconditionError{Step: "wait-available", Timeout: true, Err: err}
	}
	return &resource.PreconditionError{Step: "wait-available", Err: err}
}

// waitExpired reports whether a failed wait ran out of time. The waiter gives
// up once less than one poll interval remains before deadline.
func (h *VolumeHandler) waitExpired(waitCtx context.Context, deadline time.Time, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	return time.Until(deadline) < h.minDelay
}
