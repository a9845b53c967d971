// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"github.com/massalabs/bootstrap-client/internal/config"
)

// SnapshotManifest describes the compressed object a snapshot fetch
// downloads, written by whatever produced the snapshot. Its envelope is
// the only part this package interprets; the decompressed bytes
// themselves are handed to the (out-of-scope) final-state loader as-is.
type SnapshotManifest struct {
	Slot            uint64 `json:"slot"`
	CompressedSize  int64  `json:"compressed_size"`
	ChecksumSHA256  string `json:"checksum_sha256"`
}

// S3Snapshot (C11) fetches a zstd-compressed final-state snapshot from an
// S3-compatible object store, verifying its checksum before returning the
// decompressed bytes. A single failed attempt never retries internally —
// the caller falls back to the normal per-server loop.
type S3Snapshot struct{}

// Fetch implements SnapshotFetcher. It downloads "<key>.manifest.json"
// and "<key>", decompresses the object body, and checks its SHA-256
// against the manifest.
func (S3Snapshot) Fetch(ctx context.Context, cfg config.SnapshotConfig) error {
	_, _, err := FetchSnapshot(ctx, cfg)
	return err
}

// FetchSnapshot performs the download described by Fetch and additionally
// returns the decompressed bytes and manifest, for callers (tests, or a
// future final-state loader integration) that need them directly.
func FetchSnapshot(ctx context.Context, cfg config.SnapshotConfig) ([]byte, SnapshotManifest, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, SnapshotManifest{}, fmt.Errorf("building s3 client: %w", err)
	}

	manifest, err := fetchManifest(ctx, client, cfg)
	if err != nil {
		return nil, SnapshotManifest{}, fmt.Errorf("fetching snapshot manifest: %w", err)
	}

	compressed, err := getObject(ctx, client, cfg.Bucket, cfg.Key)
	if err != nil {
		return nil, SnapshotManifest{}, fmt.Errorf("fetching snapshot object: %w", err)
	}

	decompressed, err := decompressZstd(compressed)
	if err != nil {
		return nil, SnapshotManifest{}, fmt.Errorf("decompressing snapshot: %w", err)
	}

	sum := sha256.Sum256(decompressed)
	got := hex.EncodeToString(sum[:])
	if got != manifest.ChecksumSHA256 {
		return nil, SnapshotManifest{}, fmt.Errorf("snapshot checksum mismatch: got %s, manifest says %s", got, manifest.ChecksumSHA256)
	}

	return decompressed, manifest, nil
}

func newS3Client(ctx context.Context, cfg config.SnapshotConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func fetchManifest(ctx context.Context, client *s3.Client, cfg config.SnapshotConfig) (SnapshotManifest, error) {
	body, err := getObject(ctx, client, cfg.Bucket, cfg.Key+".manifest.json")
	if err != nil {
		return SnapshotManifest{}, err
	}
	var manifest SnapshotManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return SnapshotManifest{}, fmt.Errorf("parsing manifest json: %w", err)
	}
	return manifest, nil
}

func getObject(ctx context.Context, client *s3.Client, bucket, key string) ([]byte, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func decompressZstd(compressed []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("opening zstd stream: %w", err)
	}
	defer decoder.Close()
	return io.ReadAll(decoder)
}
