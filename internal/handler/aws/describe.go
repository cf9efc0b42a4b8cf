package aws

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/wipeit/pkg/resource"
)

const tagPrefix = "tag:"

// extractNameTag extracts the Name tag from EC2 tags.
func extractNameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}

// ec2DisplayName renders "Name (id)" when a Name tag exists.
func ec2DisplayName(id string, tags []ec2types.Tag) string {
	if name := extractNameTag(tags); name != "" {
		return fmt.Sprintf("%s (%s)", name, id)
	}
	return id
}

func addEC2Tags(d *resource.Descriptor, tags []ec2types.Tag) {
	for _, tag := range tags {
		d.Attributes[tagPrefix+aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
}

func addRDSTags(d *resource.Descriptor, tags []rdstypes.Tag) {
	for _, tag := range tags {
		d.Attributes[tagPrefix+aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func setIfNotEmpty(d *resource.Descriptor, key, value string) {
	if value != "" {
		d.Attributes[key] = value
	}
}
