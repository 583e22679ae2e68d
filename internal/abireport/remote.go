package abireport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// RemoteStore is the S3-compatible record store, for sharing capture and
// hash records through a binary repository bucket.
type RemoteStore struct {
	Client *s3.Client
	Bucket string
}

// NewRemoteStore initializes the S3 record store from configuration values.
func NewRemoteStore(cfg *Config) (*RemoteStore, error) {
	endpoint := cfg.Values["S3_ENDPOINT"]
	accessKey := cfg.Values["S3_ACCESS_KEY_ID"]
	secretKey := cfg.Values["S3_SECRET_ACCESS_KEY"]
	bucket := cfg.Values["S3_BUCKET"]
	region := cfg.Values["S3_REGION"]
	if region == "" {
		region = "auto"
	}

	if accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("remote store credentials missing in configuration (S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY, S3_BUCKET)")
	}

	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithRegion(region),
	}
	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint}, nil
		})
		options = append(options, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	if Debug {
		options = append(options, awsconfig.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &RemoteStore{Client: client, Bucket: bucket}, nil
}

func (r *RemoteStore) Put(ctx context.Context, key string, record []byte) error {
	contentType := "application/octet-stream"
	if strings.HasSuffix(key, ".json") {
		contentType = "application/json"
	} else if strings.HasSuffix(key, ".zst") {
		contentType = "application/zstd"
	}

	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(record),
		ContentLength: aws.Int64(int64(len(record))),
		ContentType:   aws.String(contentType),
	})
	return err
}

func (r *RemoteStore) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("record %q: %w", key, ErrNotFound)
		}
		return nil, err
	}
	defer output.Body.Close()

	return io.ReadAll(output.Body)
}

// ListReports returns the package ids of every report record in the bucket.
func (r *RemoteStore) ListReports(ctx context.Context) ([]PkgID, error) {
	var pkgs []PkgID
	paginator := s3.NewListObjectsV2Paginator(r.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.Bucket),
		Prefix: aws.String("reports/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if pkg, ok := reportKeyPackage(*obj.Key); ok {
				pkgs = append(pkgs, pkg)
			}
		}
	}
	return pkgs, nil
}

// reportKeyPackage extracts the package id from a report record key.
func reportKeyPackage(key string) (PkgID, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(key, "reports/") || !strings.HasSuffix(name, ".json.zst") {
		return "", false
	}
	return PkgID(strings.TrimSuffix(name, ".json.zst")), true
}
