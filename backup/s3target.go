/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/inkwell/noteengine/engineerr"
)

// S3Target uploads and lists backup bundles in an S3 (or
// S3-compatible, e.g. MinIO) bucket, the off-device half of spec.md
// §6.2's backup story. Its shape is lifted directly from the teacher's
// S3Factory/S3Storage pair (storage/persistence-s3.go): lazy client
// construction on first use, static or environment-derived credentials,
// an optional custom endpoint and path-style addressing for
// non-AWS-hosted buckets.
type S3Target struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func (t *S3Target) ensureOpen(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return nil
	}

	var opts []func(*config.LoadOptions) error
	if t.Region != "" {
		opts = append(opts, config.WithRegion(t.Region))
	}
	if t.AccessKeyID != "" && t.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(t.AccessKeyID, t.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "backup: load aws config", err)
	}

	var s3Opts []func(*s3.Options)
	if t.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(t.Endpoint) })
	}
	if t.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	t.client = s3.NewFromConfig(cfg, s3Opts...)
	t.opened = true
	return nil
}

func (t *S3Target) key(name string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Put uploads a backup bundle under the given object name (by
// convention, a timestamp or backup ID — the caller decides).
func (t *S3Target) Put(ctx context.Context, name string, bundle []byte) error {
	if err := t.ensureOpen(ctx); err != nil {
		return err
	}
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.Bucket),
		Key:    aws.String(t.key(name)),
		Body:   bytes.NewReader(bundle),
	})
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, fmt.Sprintf("backup: put %s", name), err)
	}
	return nil
}

// Get downloads a previously-uploaded bundle.
func (t *S3Target) Get(ctx context.Context, name string) ([]byte, error) {
	if err := t.ensureOpen(ctx); err != nil {
		return nil, err
	}
	resp, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.Bucket),
		Key:    aws.String(t.key(name)),
	})
	if err != nil {
		return nil, engineerr.Wrap(engineerr.NotFound, fmt.Sprintf("backup: get %s", name), err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, fmt.Sprintf("backup: read body %s", name), err)
	}
	return data, nil
}

// List returns every backup object name under this target's prefix,
// most-recent-looking-name last (S3 lists lexicographically; callers
// that name backups with a sortable timestamp prefix get chronological
// order for free).
func (t *S3Target) List(ctx context.Context) ([]string, error) {
	if err := t.ensureOpen(ctx); err != nil {
		return nil, err
	}
	prefix := t.key("")
	var names []string
	var token *string
	for {
		resp, err := t.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(t.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "backup: list objects", err)
		}
		for _, obj := range resp.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
		if resp.IsTruncated == nil || !*resp.IsTruncated {
			break
		}
		token = resp.NextContinuationToken
	}
	sort.Strings(names)
	return names, nil
}
