package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/loader"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// objectAPI is the part of *s3.Client the source needs.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3ArticleSource reads BioC XML records from a bucket prefix using the same
// file naming as the directory source.
type S3ArticleSource struct {
	bucket string
	prefix string
	client objectAPI
	cache  *loader.Cache
}

// NewS3ArticleSourceWithClient reuses a configured client, for example the
// one built by internal/storage.
func NewS3ArticleSourceWithClient(bucket, prefix string, client objectAPI) *S3ArticleSource {
	return &S3ArticleSource{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
		cache:  loader.NewCache(),
	}
}

// NewS3ArticleSourceParams configures a source with static credentials.
// Endpoint allows S3-compatible storage such as MinIO.
type NewS3ArticleSourceParams struct {
	Bucket    string
	Prefix    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

func NewS3ArticleSource(ctx context.Context, params NewS3ArticleSourceParams) (*S3ArticleSource, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return NewS3ArticleSourceWithClient(params.Bucket, params.Prefix, client), nil
}

func (l *S3ArticleSource) key(name string) string {
	if l.prefix == "" {
		return name
	}
	return path.Join(l.prefix, name)
}

func (l *S3ArticleSource) Fetch(ctx context.Context, id string) ([]byte, error) {
	if !loader.ValidID(id) {
		return nil, &common.NotFoundError{ID: id}
	}
	return l.cache.Get(ctx, id, func(ctx context.Context) ([]byte, error) {
		for _, name := range loader.FileNames(id) {
			out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(l.bucket),
				Key:    aws.String(l.key(name)),
			})
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get %s from S3: %w", name, err)
			}
			buf := new(bytes.Buffer)
			_, err = io.Copy(buf, out.Body)
			out.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", name, err)
			}
			return buf.Bytes(), nil
		}
		return nil, &common.NotFoundError{ID: id}
	})
}

// List returns the ids of all article objects under the prefix, sorted.
func (l *S3ArticleSource) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if l.prefix != "" {
		prefix = l.prefix + "/"
	}
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
		Prefix: aws.String(prefix),
	}

	seen := make(map[string]struct{})
	var ids []string
	for {
		out, err := l.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			if strings.Contains(name, "/") {
				continue
			}
			id, ok := loader.IDFromFileName(name)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if out.IsTruncated != nil && *out.IsTruncated {
			input.ContinuationToken = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(ids)
	return ids, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
