package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/iterator"
)

// uploadDirToS3 and its GCS counterpart push a freshly-built export
// pack to an optional remote object-store target (backup create
// --s3-bucket / --gcs-bucket). Neither is required — the local pack
// under --out is always the source of truth and is what
// downloadPrefixFrom{S3,GCS} restores back onto disk before a restore
// proceeds from it.
func uploadDirToS3(ctx context.Context, localDir, bucket, prefix string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		key := strings.TrimPrefix(filepath.ToSlash(filepath.Join(prefix, rel)), "/")
		_, err = client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

func downloadPrefixFromS3(ctx context.Context, bucket, prefix, localDir string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(strings.TrimPrefix(*obj.Key, prefix), "/")
			if rel == "" {
				continue
			}
			if err := fetchS3Object(ctx, client, bucket, *obj.Key, filepath.Join(localDir, rel)); err != nil {
				return err
			}
		}
	}
	return nil
}

func fetchS3Object(ctx context.Context, client *s3.Client, bucket, key, dst string) error {
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func uploadDirToGCS(ctx context.Context, localDir, bucket, prefix string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client: %w", err)
	}
	defer client.Close()
	bkt := client.Bucket(bucket)

	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		key := strings.TrimPrefix(filepath.ToSlash(filepath.Join(prefix, rel)), "/")

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		w := bkt.Object(key).NewWriter(ctx)
		if _, err := io.Copy(w, f); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
}

func downloadPrefixFromGCS(ctx context.Context, bucket, prefix, localDir string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client: %w", err)
	}
	defer client.Close()
	bkt := client.Bucket(bucket)

	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(attrs.Name, prefix), "/")
		if rel == "" {
			continue
		}

		r, err := bkt.Object(attrs.Name).NewReader(ctx)
		if err != nil {
			return err
		}
		dst := filepath.Join(localDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			r.Close()
			return err
		}
		f, err := os.Create(dst)
		if err != nil {
			r.Close()
			return err
		}
		_, err = io.Copy(f, r)
		r.Close()
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
