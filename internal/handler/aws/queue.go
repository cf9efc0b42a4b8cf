package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// QueueHandler discovers and deletes SQS queues. Queues are identified by URL.
type QueueHandler struct {
	client SQSAPI
}

// Kind returns resource.KindMessageQueue.
func (h *QueueHandler) Kind() resource.Kind { return resource.KindMessageQueue }

// Discover lists every queue URL in the region.
func (h *QueueHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := sqs.NewListQueuesPaginator(h.client, &sqs.ListQueuesInput{}, func(o *sqs.ListQueuesPaginatorOptions) {
		o.Limit = 1000
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("list queues", err)
		}

		for _, queueURL := range output.QueueUrls {
			name := resource.QueueName(queueURL)
			d := newDescriptor(resource.KindMessageQueue, queueURL, name)
			d.Attributes["name"] = name
			descriptors = append(descriptors, d)
		}
	}

	return descriptors, nil
}

// Delete removes the queue at the given URL.
func (h *QueueHandler) Delete(ctx context.Context, queueURL string) error {
	if _, err := h.client.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(queueURL)}); err != nil {
		return resource.NewProviderError("delete queue", err)
	}
	return nil
}
