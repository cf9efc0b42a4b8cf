package aws

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// LogGroupHandler discovers and deletes CloudWatch log groups by name.
type LogGroupHandler struct {
	client CloudWatchLogsAPI
}

// Kind returns resource.KindLogGroup.
func (h *LogGroupHandler) Kind() resource.Kind { return resource.KindLogGroup }

// Discover lists every log group in the region.
func (h *LogGroupHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(h.client, &cloudwatchlogs.DescribeLogGroupsInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("describe log groups", err)
		}

		for _, lg := range output.LogGroups {
			descriptors = append(descriptors, convertLogGroup(lg))
		}
	}

	return descriptors, nil
}

func convertLogGroup(lg cwltypes.LogGroup) resource.Descriptor {
	name := aws.ToString(lg.LogGroupName)
	d := newDescriptor(resource.KindLogGroup, name, name)
	d.Attributes["stored_bytes"] = strconv.FormatInt(aws.ToInt64(lg.StoredBytes), 10)
	if lg.RetentionInDays != nil {
		d.Attributes["retention_days"] = strconv.Itoa(int(aws.ToInt32(lg.RetentionInDays)))
	}
	if lg.CreationTime != nil {
		created := time.UnixMilli(aws.ToInt64(lg.CreationTime))
		d.Attributes["created"] = formatDate(&created)
	}
	return d
}

// Delete removes the log group and its streams.
func (h *LogGroupHandler) Delete(ctx context.Context, name string) error {
	if _, err := h.client.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{LogGroupName: aws.String(name)}); err != nil {
		return resource.NewProviderError("delete log group", err)
	}
	return nil
}
