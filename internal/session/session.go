// Package session resolves credentials and region into a verified AWS scope.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// STSAPI is the subset of STS used to verify credentials.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Session is a verified credential set bound to one region.
type Session struct {
	Config aws.Config
	Scope  resource.Scope
	// ARN of the calling identity.
	ARN string
}

// Resolver builds sessions. The loader and STS factory are swappable for tests.
type Resolver struct {
	LoadConfig func(ctx context.Context, profile, region string) (aws.Config, error)
	NewSTS     func(cfg aws.Config) STSAPI
}

// NewResolver returns a resolver backed by the shared AWS config chain.
func NewResolver() *Resolver {
	return &Resolver{
		LoadConfig: loadConfig,
		NewSTS: func(cfg aws.Config) STSAPI {
			return sts.NewFromConfig(cfg)
		},
	}
}

// Resolve loads credentials for profile and region and verifies them with a
// caller identity call. Every failure is a *resource.ConfigurationError.
func (r *Resolver) Resolve(ctx context.Context, profile, region string) (*Session, error) {
	profile = strings.TrimSpace(profile)
	region = strings.TrimSpace(region)

	configErr := func(err error) error {
		return &resource.ConfigurationError{Profile: profile, Region: region, Err: err}
	}

	if region == "" {
		return nil, configErr(fmt.Errorf("region is required"))
	}

	cfg, err := r.LoadConfig(ctx, profile, region)
	if err != nil {
		return nil, configErr(fmt.Errorf("load aws config: %w", err))
	}

	out, err := r.NewSTS(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, configErr(fmt.Errorf("verify credentials: %w", err))
	}

	return &Session{
		Config: cfg,
		Scope: resource.Scope{
			Profile: profile,
			Account: aws.ToString(out.Account),
			Region:  region,
		},
		ARN: aws.ToString(out.Arn),
	}, nil
}

func loadConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
