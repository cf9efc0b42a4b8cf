package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	taggingtypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// TaggingAPI is the subset of the Resource Groups Tagging API used by the sweep.
type TaggingAPI interface {
	GetResources(ctx context.Context, params *resourcegroupstaggingapi.GetResourcesInput, optFns ...func(*resourcegroupstaggingapi.Options)) (*resourcegroupstaggingapi.GetResourcesOutput, error)
}

// sweepResourceTypes limits the tagging query to services that own a kind.
var sweepResourceTypes = []string{
	"ec2:instance",
	"ec2:volume",
	"rds:db",
	"sqs",
	"secretsmanager",
	"s3",
	"lambda:function",
	"apigateway:restapis",
	"logs:log-group",
}

// Sweeper cross-checks an inventory against every tagged ARN in the region.
type Sweeper struct {
	client TaggingAPI
}

// NewSweeper creates a tag sweeper.
func NewSweeper(client TaggingAPI) *Sweeper {
	return &Sweeper{client: client}
}

// SweepStats reports what a sweep contributed.
type SweepStats struct {
	Seen       int `json:"seen"`
	Added      int `json:"added"`
	Unresolved int `json:"unresolved"`
}

// Merge adds tagged resources missing from inv. ARNs that do not map to a
// supported kind are counted and skipped.
func (s *Sweeper) Merge(ctx context.Context, inv resource.Inventory) (SweepStats, error) {
	var stats SweepStats
	now := time.Now().UTC()

	input := &resourcegroupstaggingapi.GetResourcesInput{
		ResourceTypeFilters: sweepResourceTypes,
		ResourcesPerPage:    aws.Int32(100),
	}

	for {
		output, err := s.client.GetResources(ctx, input)
		if err != nil {
			return stats, resource.NewProviderError("tag sweep", err)
		}

		for _, mapping := range output.ResourceTagMappingList {
			stats.Seen++
			arn := aws.ToString(mapping.ResourceARN)

			ref, err := resource.ParseRef(arn)
			if err != nil {
				stats.Unresolved++
				log.Debug().Err(err).Str("arn", arn).Msg("tag sweep skipped unresolvable ARN")
				continue
			}
			if _, found := inv.Find(ref.Kind, ref.ID); found {
				continue
			}

			inv[ref.Kind] = append(inv[ref.Kind], sweptDescriptor(ref, arn, mapping.Tags, now))
			stats.Added++
		}

		if aws.ToString(output.PaginationToken) == "" {
			break
		}
		input.PaginationToken = output.PaginationToken
	}

	if stats.Added > 0 {
		log.Warn().
			Int("added", stats.Added).
			Msg("tag sweep found resources missed by discovery")
	}
	return stats, nil
}

func sweptDescriptor(ref resource.Ref, arn string, tags []taggingtypes.Tag, now time.Time) resource.Descriptor {
	attrs := map[string]string{
		"arn":    arn,
		"source": "tag-sweep",
	}
	name := ref.ID
	for _, tag := range tags {
		key := aws.ToString(tag.Key)
		attrs[fmt.Sprintf("tag:%s", key)] = aws.ToString(tag.Value)
		if key == "Name" && aws.ToString(tag.Value) != "" {
			name = aws.ToString(tag.Value)
		}
	}
	return resource.Descriptor{
		Kind:         ref.Kind,
		ID:           ref.ID,
		DisplayName:  name,
		Attributes:   attrs,
		DiscoveredAt: now,
	}
}
