package aws

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// FunctionHandler discovers and deletes Lambda functions by name.
type FunctionHandler struct {
	client LambdaAPI
}

// Kind returns resource.KindFunction.
func (h *FunctionHandler) Kind() resource.Kind { return resource.KindFunction }

// Discover lists every function in the region.
func (h *FunctionHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := lambda.NewListFunctionsPaginator(h.client, &lambda.ListFunctionsInput{})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("list functions", err)
		}

		for _, fn := range output.Functions {
			name := aws.ToString(fn.FunctionName)
			d := newDescriptor(resource.KindFunction, name, name)
			d.Attributes["arn"] = aws.ToString(fn.FunctionArn)
			setIfNotEmpty(&d, "runtime", string(fn.Runtime))
			d.Attributes["memory_mb"] = strconv.Itoa(int(aws.ToInt32(fn.MemorySize)))
			setIfNotEmpty(&d, "last_modified", aws.ToString(fn.LastModified))
			descriptors = append(descriptors, d)
		}
	}

	return descriptors, nil
}

// Delete removes the function and all its versions.
func (h *FunctionHandler) Delete(ctx context.Context, name string) error {
	if _, err := h.client.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(name)}); err != nil {
		return resource.NewProviderError("delete function", err)
	}
	return nil
}
