package aws

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// DatabaseHandler discovers and deletes RDS DB instances.
type DatabaseHandler struct {
	client RDSAPI
}

// Kind returns resource.KindManagedDatabase.
func (h *DatabaseHandler) Kind() resource.Kind { return resource.KindManagedDatabase }

// Discover lists every DB instance in the region.
func (h *DatabaseHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := rds.NewDescribeDBInstancesPaginator(h.client, &rds.DescribeDBInstancesInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("describe db instances", err)
		}

		for _, instance := range output.DBInstances {
			descriptors = append(descriptors, convertDBInstance(instance))
		}
	}

	return descriptors, nil
}

func convertDBInstance(instance rdstypes.DBInstance) resource.Descriptor {
	id := aws.ToString(instance.DBInstanceIdentifier)
	d := newDescriptor(resource.KindManagedDatabase, id, id)
	addRDSTags(&d, instance.TagList)
	d.Attributes["engine"] = aws.ToString(instance.Engine)
	d.Attributes["status"] = aws.ToString(instance.DBInstanceStatus)
	d.Attributes["class"] = aws.ToString(instance.DBInstanceClass)
	d.Attributes["storage_gib"] = strconv.Itoa(int(aws.ToInt32(instance.AllocatedStorage)))
	d.Attributes["deletion_protection"] = strconv.FormatBool(aws.ToBool(instance.DeletionProtection))
	return d
}

// Delete removes the DB instance without a final snapshot.
func (h *DatabaseHandler) Delete(ctx context.Context, id string) error {
	_, err := h.client.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier:   aws.String(id),
		SkipFinalSnapshot:      aws.Bool(true),
		DeleteAutomatedBackups: aws.Bool(true),
	})
	if err != nil {
		return resource.NewProviderError("delete db instance", err)
	}
	return nil
}
