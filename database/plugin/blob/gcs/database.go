// Copyright 2025 Parentheses Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/api/option"

	"github.com/parentheses-network/kex/database/types"
)

const requestTimeout = 30 * time.Second

// BlobStoreGCS stores artifact payloads in a Google Cloud Storage bucket.
type BlobStoreGCS struct {
	promRegistry    prometheus.Registerer
	logger          *GcsLogger
	client          *storage.Client
	bucket          *storage.BucketHandle
	startupCancel   context.CancelFunc
	bucketName      string
	credentialsFile string

	payloadsStored prometheus.Counter
	payloadBytes   prometheus.Counter
}

// New creates a new GCS-backed blob store.
func New(
	dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (*BlobStoreGCS, error) {
	const prefix = "gcs://"
	var bucketName string
	if after, ok := strings.CutPrefix(dataDir, prefix); ok {
		bucketName = after
	}
	if bucketName == "" {
		return nil, errors.New(
			"gcs blob: bucket not set (expected dataDir='gcs://<bucket>')",
		)
	}

	return NewWithOptions(
		WithBucket(bucketName),
		WithLogger(logger),
		WithPromRegistry(promRegistry),
	)
}

// NewWithOptions creates a new GCS-backed blob store using options.
func NewWithOptions(opts ...BlobStoreGCSOptionFunc) (*BlobStoreGCS, error) {
	db := &BlobStoreGCS{}

	// Apply options
	for _, opt := range opts {
		opt(db)
	}

	// Set defaults
	if db.logger == nil {
		db.logger = NewGcsLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	}

	return db, nil
}

func (d *BlobStoreGCS) init() error {
	// Configure metrics
	if d.promRegistry != nil {
		d.registerBlobMetrics()
	}

	// Close the startup context so later requests use their own timeouts
	if d.startupCancel != nil {
		d.startupCancel()
		d.startupCancel = nil
	}
	return nil
}

func (d *BlobStoreGCS) registerBlobMetrics() {
	promautoFactory := promauto.With(d.promRegistry)
	d.payloadsStored = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_blob_payloads_stored_total",
			Help: "total number of artifact payloads written to the blob store",
		},
	)
	d.payloadBytes = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_blob_payload_bytes_total",
			Help: "total bytes of artifact payload written to the blob store",
		},
	)
}

func validateCredentials(credentialsFile string) error {
	fi, err := os.Stat(credentialsFile)
	if err != nil {
		return fmt.Errorf(
			"gcs blob: cannot read credentials file %s: %w",
			credentialsFile,
			err,
		)
	}
	if fi.IsDir() {
		return fmt.Errorf(
			"gcs blob: credentials path %s is a directory",
			credentialsFile,
		)
	}
	return nil
}

// Close closes the GCS client.
func (d *BlobStoreGCS) Close() error {
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// Returns the GCS client.
func (d *BlobStoreGCS) Client() *storage.Client {
	return d.client
}

// Returns the bucket handle.
func (d *BlobStoreGCS) Bucket() *storage.BucketHandle {
	return d.bucket
}

// Start implements the plugin.Plugin interface.
func (d *BlobStoreGCS) Start() error {
	// Validate required fields
	if d.bucketName == "" {
		return errors.New("gcs blob: bucket not set")
	}

	// Validate credentials file if specified
	if d.credentialsFile != "" {
		if err := validateCredentials(d.credentialsFile); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)

	var clientOpts []option.ClientOption
	clientOpts = append(clientOpts, storage.WithDisabledClientMetrics())
	if d.credentialsFile != "" {
		clientOpts = append(
			clientOpts,
			option.WithCredentialsFile(d.credentialsFile),
		)
	}

	client, err := storage.NewGRPCClient(
		ctx,
		clientOpts...,
	)
	if err != nil {
		cancel()
		return fmt.Errorf(
			"gcs blob: failed in creating storage client: %w",
			err,
		)
	}

	d.client = client
	d.bucket = client.Bucket(d.bucketName)
	d.startupCancel = cancel

	if err := d.init(); err != nil {
		// Clean up resources on init failure
		d.Close()
		return err
	}
	return nil
}

// Stop implements the plugin.Plugin interface.
func (d *BlobStoreGCS) Stop() error {
	return d.Close()
}

func payloadObjectName(digest []byte) string {
	return fmt.Sprintf("%s/%x", types.PayloadBlobKeyPrefix, digest)
}

// PutPayload writes a payload object keyed by its content digest. Writing
// the same digest again is a no-op since the content is identical.
func (d *BlobStoreGCS) PutPayload(digest []byte, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	name := payloadObjectName(digest)

	exists, err := d.hasObject(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	w := d.bucket.Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		d.logger.Errorf("failed to write payload %s: %v", name, err)
		return err
	}
	if err := w.Close(); err != nil {
		d.logger.Errorf("failed to close payload writer %s: %v", name, err)
		return err
	}
	if d.payloadsStored != nil {
		d.payloadsStored.Inc()
		d.payloadBytes.Add(float64(len(data)))
	}
	return nil
}

// GetPayload returns the payload stored under the given content digest.
func (d *BlobStoreGCS) GetPayload(digest []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	r, err := d.bucket.Object(payloadObjectName(digest)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, types.ErrKeyNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// HasPayload reports whether a payload exists for the given content digest.
func (d *BlobStoreGCS) HasPayload(digest []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return d.hasObject(ctx, payloadObjectName(digest))
}

func (d *BlobStoreGCS) hasObject(
	ctx context.Context,
	name string,
) (bool, error) {
	_, err := d.bucket.Object(name).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
