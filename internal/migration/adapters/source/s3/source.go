// Package s3 reads migration files from an S3 bucket prefix
package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/studiobook/studiobook/internal/migration/app/service"
	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

const defaultRegion = "us-east-1"

// API defines the S3 operations used by the source
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures a client built by NewFromConfig
type Options struct {
	Bucket          string
	Prefix          string
	Extension       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Source lists migrations stored directly under a bucket prefix
type Source struct {
	client    API
	bucket    string
	prefix    string
	extension string
}

var _ service.Source = (*Source)(nil)

// New creates a source over bucket/prefix. Objects in nested "folders" are ignored.
func New(client API, bucket, prefix, extension string) *Source {
	if extension == "" {
		extension = model.DefaultExtension
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Source{client: client, bucket: bucket, prefix: prefix, extension: extension}
}

// NewFromConfig builds an S3 client from the default AWS credential chain, or from
// static keys when both are given, and returns a source using it.
func NewFromConfig(ctx context.Context, opts Options) (*Source, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(cfg, clientOpts...), opts.Bucket, opts.Prefix, opts.Extension), nil
}

// List returns the objects directly under the prefix whose name ends in the
// extension, ordered by filename
func (s *Source) List(ctx context.Context) ([]model.MigrationFile, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.prefix),
		Delimiter: aws.String("/"),
	})

	var files []model.MigrationFile
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list s3://%s/%s: %w", model.ErrSourceUnavailable, s.bucket, s.prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, s.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			if !model.MatchesExtension(name, s.extension) {
				continue
			}
			files = append(files, model.MigrationFile{Filename: name, Location: key})
		}
	}

	model.SortFiles(files)
	return files, nil
}

// Read downloads the object behind file
func (s *Source) Read(ctx context.Context, file model.MigrationFile) ([]byte, error) {
	key := file.Location
	if key == "" {
		key = s.prefix + file.Filename
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get s3://%s/%s: %w", model.ErrSourceUnavailable, s.bucket, key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read s3://%s/%s: %w", model.ErrSourceUnavailable, s.bucket, key, err)
	}
	return content, nil
}
