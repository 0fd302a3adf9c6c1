package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/pubgraph/backend/internal/config"
	"github.com/pubgraph/backend/pkg/common"
	"github.com/pubgraph/backend/pkg/loader"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/pipeline"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store keeps run reports and raw documents in a bucket. Documents are
// written with the naming the s3 source reads, so an archive prefix can serve
// later runs directly.
type Store struct {
	client        objectAPI
	bucket        string
	reportPrefix  string
	archivePrefix string
}

func New(client objectAPI, bucket, reportPrefix, archivePrefix string) *Store {
	return &Store{
		client:        client,
		bucket:        bucket,
		reportPrefix:  strings.Trim(reportPrefix, "/"),
		archivePrefix: strings.Trim(archivePrefix, "/"),
	}
}

func (s *Store) ReportKey(runID string) string {
	return path.Join(s.reportPrefix, runID+".json")
}

func (s *Store) DocumentKey(id string) string {
	return path.Join(s.archivePrefix, loader.FileNames(id)[0])
}

func (s *Store) PutReport(ctx context.Context, r *pipeline.Report) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	key := s.ReportKey(r.RunID)
	if err := s.put(ctx, key, "application/json", b); err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", r.RunID, err)
	}
	return key, nil
}

func (s *Store) GetReport(ctx context.Context, runID string) (*pipeline.Report, error) {
	b, err := s.get(ctx, s.ReportKey(runID))
	if err != nil {
		if isMissing(err) {
			return nil, &common.NotFoundError{ID: runID}
		}
		return nil, fmt.Errorf("failed to get report %s: %w", runID, err)
	}
	r := new(pipeline.Report)
	if err := json.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", runID, err)
	}
	return r, nil
}

// ListReports returns the run ids of all stored reports, sorted.
func (s *Store) ListReports(ctx context.Context) ([]string, error) {
	prefix := s.reportPrefix
	if prefix != "" {
		prefix += "/"
	}
	keys, err := s.listWithPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) PutDocument(ctx context.Context, id string, data []byte) error {
	if !loader.ValidID(id) {
		return fmt.Errorf("invalid document id %q", id)
	}
	if err := s.put(ctx, s.DocumentKey(id), "application/xml", data); err != nil {
		return fmt.Errorf("failed to archive document %s: %w", id, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read object contents: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Store) listWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}
	return keys, nil
}

func isMissing(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// ArchivingSource copies every document it fetches into the Store. A failed
// upload is logged and does not fail the fetch.
type ArchivingSource struct {
	Source loader.ArticleSource
	Store  *Store
}

func (a *ArchivingSource) Fetch(ctx context.Context, id string) ([]byte, error) {
	data, err := a.Source.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.Store.PutDocument(ctx, id, data); err != nil {
		logger.Warn("[Storage] Archive failed", "id", id, "err", err)
	}
	return data, nil
}

// Search passes through to the wrapped source when it can search.
func (a *ArchivingSource) Search(ctx context.Context, query string, limit int) ([]string, error) {
	s, ok := a.Source.(loader.Searcher)
	if !ok {
		return nil, fmt.Errorf("source does not support search")
	}
	return s.Search(ctx, query, limit)
}
