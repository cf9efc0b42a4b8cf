package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// DefaultBucketRegion is the region S3 reports as an empty location constraint.
const DefaultBucketRegion = "us-east-1"

// BucketHandler discovers and deletes S3 buckets. Buckets are listed
// globally and kept only when their location matches the scope region.
type BucketHandler struct {
	client    S3API
	batchSize int
}

// Kind returns resource.KindObjectStoreBucket.
func (h *BucketHandler) Kind() resource.Kind { return resource.KindObjectStoreBucket }

// NormalizeBucketRegion maps a bucket location constraint to a region name.
func NormalizeBucketRegion(constraint string) string {
	switch constraint {
	case "":
		return DefaultBucketRegion
	case string(s3types.BucketLocationConstraintEu):
		return "eu-west-1"
	}
	return constraint
}

// Discover lists the buckets located in the scope region.
func (h *BucketHandler) Discover(ctx context.Context, scope resource.Scope) ([]resource.Descriptor, error) {
	descriptors := []resource.Descriptor{}
	var token *string

	for {
		output, err := h.client.ListBuckets(ctx, &s3.ListBucketsInput{ContinuationToken: token})
		if err != nil {
			return nil, resource.NewProviderError("list buckets", err)
		}

		for _, bucket := range output.Buckets {
			name := aws.ToString(bucket.Name)
			region, err := h.bucketRegion(ctx, name)
			if err != nil {
				log.Warn().Err(err).
					Str("kind", string(resource.KindObjectStoreBucket)).
					Str("resource_id", name).
					Msg("failed to resolve bucket region, skipping")
				continue
			}
			if region != scope.Region {
				continue
			}

			d := newDescriptor(resource.KindObjectStoreBucket, name, name)
			d.Attributes["region"] = region
			setIfNotEmpty(&d, "created", formatDate(bucket.CreationDate))
			descriptors = append(descriptors, d)
		}

		if aws.ToString(output.ContinuationToken) == "" {
			break
		}
		token = output.ContinuationToken
	}

	return descriptors, nil
}

func (h *BucketHandler) bucketRegion(ctx context.Context, bucket string) (string, error) {
	output, err := h.client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)})
	if err != nil {
		return "", resource.NewProviderError("get bucket location", err)
	}
	return NormalizeBucketRegion(string(output.LocationConstraint)), nil
}

// Delete drains every object version and delete marker, aborts incomplete
// multipart uploads, then deletes the bucket.
func (h *BucketHandler) Delete(ctx context.Context, bucket string) error {
	var optFns []func(*s3.Options)
	if region, err := h.bucketRegion(ctx, bucket); err == nil {
		optFns = append(optFns, func(o *s3.Options) { o.Region = region })
	} else {
		log.Debug().Err(err).Str("resource_id", bucket).Msg("using client region for bucket")
	}

	removed, err := h.drain(ctx, bucket, optFns)
	if err != nil {
		return &resource.PreconditionError{Step: "drain", Err: err}
	}
	log.Debug().Str("resource_id", bucket).Int("versions", removed).Msg("bucket drained")

	h.abortMultipartUploads(ctx, bucket, optFns)

	if _, err := h.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}, optFns...); err != nil {
		return resource.NewProviderError("delete bucket", err)
	}
	return nil
}

// drain removes every version and delete marker in bounded batches and
// returns how many entries were removed.
func (h *BucketHandler) drain(ctx context.Context, bucket string, optFns []func(*s3.Options)) (int, error) {
	var (
		keyMarker     *string
		versionMarker *string
		pending       []s3types.ObjectIdentifier
		removed       int
	)

	for {
		output, err := h.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		}, optFns...)
		if err != nil {
			return removed, resource.NewProviderError("list object versions", err)
		}

		for _, v := range output.Versions {
			pending = append(pending, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range output.DeleteMarkers {
			pending = append(pending, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}

		for len(pending) >= h.batchSize {
			if err := h.deleteBatch(ctx, bucket, pending[:h.batchSize], optFns); err != nil {
				return removed, err
			}
			removed += h.batchSize
			pending = pending[h.batchSize:]
		}

		if !aws.ToBool(output.IsTruncated) || (output.NextKeyMarker == nil && output.NextVersionIdMarker == nil) {
			break
		}
		keyMarker = output.NextKeyMarker
		versionMarker = output.NextVersionIdMarker
	}

	if len(pending) > 0 {
		if err := h.deleteBatch(ctx, bucket, pending, optFns); err != nil {
			return removed, err
		}
		removed += len(pending)
	}
	return removed, nil
}

func (h *BucketHandler) deleteBatch(ctx context.Context, bucket string, objects []s3types.ObjectIdentifier, optFns []func(*s3.Options)) error {
	batch := make([]s3types.ObjectIdentifier, len(objects))
	copy(batch, objects)

	output, err := h.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &s3types.Delete{Objects: batch, Quiet: aws.Bool(true)},
	}, optFns...)
	if err != nil {
		return resource.NewProviderError("delete objects", err)
	}
	if len(output.Errors) > 0 {
		first := output.Errors[0]
		return resource.NewProviderError("delete objects", fmt.Errorf("%d of %d entries failed, first %s (version %s): %s: %s",
			len(output.Errors), len(batch),
			aws.ToString(first.Key), aws.ToString(first.VersionId),
			aws.ToString(first.Code), aws.ToString(first.Message)))
	}
	return nil
}

// abortMultipartUploads is best effort; failures are logged.
func (h *BucketHandler) abortMultipartUploads(ctx context.Context, bucket string, optFns []func(*s3.Options)) {
	var keyMarker, uploadMarker *string

	for {
		output, err := h.client.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         aws.String(bucket),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadMarker,
		}, optFns...)
		if err != nil {
			log.Warn().Err(err).Str("resource_id", bucket).Msg("failed to list multipart uploads")
			return
		}

		for _, upload := range output.Uploads {
			_, err := h.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(bucket),
				Key:      upload.Key,
				UploadId: upload.UploadId,
			}, optFns...)
			if err != nil {
				log.Warn().Err(err).
					Str("resource_id", bucket).
					Str("key", aws.ToString(upload.Key)).
					Msg("failed to abort multipart upload")
			}
		}

		if !aws.ToBool(output.IsTruncated) || (output.NextKeyMarker == nil && output.NextUploadIdMarker == nil) {
			return
		}
		keyMarker = output.NextKeyMarker
		uploadMarker = output.NextUploadIdMarker
	}
}
