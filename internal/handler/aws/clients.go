// Package aws implements one resource handler per kind on top of the AWS SDK.
package aws

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/yairfalse/wipeit/internal/handler"
	"github.com/yairfalse/wipeit/pkg/resource"
)

// MaxBucketBatchSize is the most keys one DeleteObjects call accepts.
const MaxBucketBatchSize = 1000

// Clients holds the service clients for one run. The SDK clients are safe
// for concurrent use and are never mutated after construction.
type Clients struct {
	EC2            EC2API
	RDS            RDSAPI
	S3             S3API
	SQS            SQSAPI
	SecretsManager SecretsManagerAPI
	Lambda         LambdaAPI
	APIGateway     APIGatewayAPI
	Logs           CloudWatchLogsAPI
}

// NewClients builds every service client from one resolved config.
func NewClients(cfg aws.Config) Clients {
	return Clients{
		EC2:            ec2.NewFromConfig(cfg),
		RDS:            rds.NewFromConfig(cfg),
		S3:             s3.NewFromConfig(cfg),
		SQS:            sqs.NewFromConfig(cfg),
		SecretsManager: secretsmanager.NewFromConfig(cfg),
		Lambda:         lambda.NewFromConfig(cfg),
		APIGateway:     apigateway.NewFromConfig(cfg),
		Logs:           cloudwatchlogs.NewFromConfig(cfg),
	}
}

// Options tunes handler preconditions.
type Options struct {
	// DetachTimeout bounds the wait for a detached volume to become available.
	DetachTimeout time.Duration
	// WaitMinDelay and WaitMaxDelay bound the volume waiter's polling interval.
	WaitMinDelay time.Duration
	WaitMaxDelay time.Duration
	// BucketBatchSize is the number of versions removed per DeleteObjects call.
	BucketBatchSize int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		DetachTimeout:   5 * time.Minute,
		WaitMinDelay:    5 * time.Second,
		WaitMaxDelay:    30 * time.Second,
		BucketBatchSize: MaxBucketBatchSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DetachTimeout <= 0 {
		o.DetachTimeout = d.DetachTimeout
	}
	if o.WaitMinDelay <= 0 {
		o.WaitMinDelay = d.WaitMinDelay
	}
	if o.WaitMaxDelay < o.WaitMinDelay {
		o.WaitMaxDelay = o.WaitMinDelay
	}
	if o.BucketBatchSize <= 0 || o.BucketBatchSize > MaxBucketBatchSize {
		o.BucketBatchSize = MaxBucketBatchSize
	}
	return o
}

// Handlers returns one handler per kind, in kind declaration order.
func Handlers(c Clients, opts Options) []handler.Handler {
	opts = opts.withDefaults()
	return []handler.Handler{
		&InstanceHandler{client: c.EC2},
		&DatabaseHandler{client: c.RDS},
		&QueueHandler{client: c.SQS},
		&SecretHandler{client: c.SecretsManager},
		&BucketHandler{client: c.S3, batchSize: opts.BucketBatchSize},
		&FunctionHandler{client: c.Lambda},
		&APIEndpointHandler{client: c.APIGateway},
		&LogGroupHandler{client: c.Logs},
		&VolumeHandler{
			client:        c.EC2,
			detachTimeout: opts.DetachTimeout,
			minDelay:      opts.WaitMinDelay,
			maxDelay:      opts.WaitMaxDelay,
		},
	}
}

// NewRegistry builds the static registry for every supported kind.
func NewRegistry(c Clients, opts Options) (*handler.Registry, error) {
	return handler.NewRegistry(Handlers(c, opts)...)
}

// newDescriptor creates a descriptor with common fields set.
func newDescriptor(kind resource.Kind, id, name string) resource.Descriptor {
	if name == "" {
		name = id
	}
	return resource.Descriptor{
		Kind:         kind,
		ID:           id,
		DisplayName:  name,
		Attributes:   make(map[string]string),
		DiscoveredAt: time.Now(),
	}
}
