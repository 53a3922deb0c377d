package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an S3 or S3-compatible (MinIO) structure store.
type S3Config struct {
	Region    string
	Bucket    string
	Endpoint  string
	PathStyle bool
	// Prefix is prepended to every key, usually the run ID.
	Prefix string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	HTTPClient      *http.Client
}

// Environment:
//
//	EVOPROT_BLOB_S3_BUCKET      required
//	EVOPROT_BLOB_S3_REGION      default us-east-1
//	EVOPROT_BLOB_S3_ENDPOINT    optional, for MinIO
//	EVOPROT_BLOB_S3_PATH_STYLE  true|false
//
// Credentials come from the default AWS chain.
func S3ConfigFromEnv(prefix string) (S3Config, error) {
	bucket := os.Getenv("EVOPROT_BLOB_S3_BUCKET")
	if bucket == "" {
		return S3Config{}, fmt.Errorf("EVOPROT_BLOB_S3_BUCKET required for s3 driver")
	}
	return S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("EVOPROT_BLOB_S3_REGION"),
		Endpoint:  os.Getenv("EVOPROT_BLOB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("EVOPROT_BLOB_S3_PATH_STYLE"), "true"),
		Prefix:    prefix,
	}, nil
}

type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
		// MinIO and older gateways reject trailing checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	prefix := strings.Trim(cfg.Prefix, "/")
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *S3Store) Driver() Driver { return DriverS3 }

func (s *S3Store) objectKey(key string) (string, string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	if s.prefix == "" {
		return clean, clean, nil
	}
	return clean, path.Join(s.prefix, clean), nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	clean, objectKey, err := s.objectKey(key)
	if err != nil {
		return Info{}, err
	}
	// Create-only: S3 has no conditional create on every gateway, so check with HeadObject first.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &objectKey}); err == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, clean)
	} else if !isNotFound(err) {
		return Info{}, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = contentTypeFor(clean)
	}
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &objectKey,
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   &contentType,
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Info{}, err
	}
	return s.Head(ctx, clean)
}

func (s *S3Store) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	clean, objectKey, err := s.objectKey(key)
	if err != nil {
		return Info{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &objectKey})
	if err != nil {
		if isNotFound(err) {
			return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return Info{}, nil, err
	}
	info := s.info(clean, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified)
	return info, out.Body, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (Info, error) {
	clean, objectKey, err := s.objectKey(key)
	if err != nil {
		return Info{}, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &objectKey})
	if err != nil {
		if isNotFound(err) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return Info{}, err
	}
	return s.info(clean, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified), nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]Info, error) {
	full := prefix
	if s.prefix != "" {
		full = s.prefix + "/" + prefix
	}
	var out []Info
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &full,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range resp.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			out = append(out, s.info(key, obj.Size, nil, obj.ETag, nil, obj.LastModified))
		}
		if !aws.ToBool(resp.IsTruncated) || resp.NextContinuationToken == nil {
			break
		}
		token = resp.NextContinuationToken
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3Store) info(key string, size *int64, contentType, etag *string, metadata map[string]string, modified *time.Time) Info {
	info := Info{
		Key:         key,
		Size:        aws.ToInt64(size),
		ContentType: aws.ToString(contentType),
		ETag:        strings.Trim(aws.ToString(etag), `"`),
		Metadata:    cloneMetadata(metadata),
		URL:         "s3://" + s.bucket + "/" + path.Join(s.prefix, key),
	}
	if info.ContentType == "" {
		info.ContentType = contentTypeFor(key)
	}
	if modified != nil {
		info.LastModified = modified.UTC()
	}
	return info
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
