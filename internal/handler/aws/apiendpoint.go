package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// APIEndpointHandler discovers and deletes API Gateway REST APIs by id.
type APIEndpointHandler struct {
	client APIGatewayAPI
}

// Kind returns resource.KindAPIEndpoint.
func (h *APIEndpointHandler) Kind() resource.Kind { return resource.KindAPIEndpoint }

// Discover lists every REST API in the region.
func (h *APIEndpointHandler) Discover(ctx context.Context, _ resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	paginator := apigateway.NewGetRestApisPaginator(h.client, &apigateway.GetRestApisInput{}, func(o *apigateway.GetRestApisPaginatorOptions) {
		o.Limit = 500
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, resource.NewProviderError("get rest apis", err)
		}

		for _, api := range output.Items {
			id := aws.ToString(api.Id)
			d := newDescriptor(resource.KindAPIEndpoint, id, aws.ToString(api.Name))
			setIfNotEmpty(&d, "description", aws.ToString(api.Description))
			setIfNotEmpty(&d, "created", formatDate(api.CreatedDate))
			descriptors = append(descriptors, d)
		}
	}

	return descriptors, nil
}

// Delete removes the REST API.
func (h *APIEndpointHandler) Delete(ctx context.Context, id string) error {
	if _, err := h.client.DeleteRestApi(ctx, &apigateway.DeleteRestApiInput{RestApiId: aws.String(id)}); err != nil {
		return resource.NewProviderError("delete rest api", err)
	}
	return nil
}
