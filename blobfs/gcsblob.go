package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/internal/env"
	"gocloud.dev/blob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
)

type gcsOpener struct {
	bucket    string
	anonymous bool
}

// newGCSOpener resolves a gs locator - the host is the bucket:
//
//	gs://mybucket/prefix
func newGCSOpener(loc *filestore.Locator, envfs fs.FS) (*gcsOpener, string, error) {
	if loc.Host == "" {
		return nil, "", errors.New("missing bucket name")
	}

	return &gcsOpener{
		bucket:    loc.Host,
		anonymous: loc.Option("anonymous") == "true" || env.GetenvFS(envfs, "GOOGLE_ANON") == "true",
	}, loc.BasePath, nil
}

func (o *gcsOpener) bucketName() string {
	return o.bucket
}

func (o *gcsOpener) open(ctx context.Context, hc clientConfig) (*blob.Bucket, error) {
	hclient := hc.client(http.DefaultTransport)

	var client *gcp.HTTPClient

	if o.anonymous {
		client = gcp.NewAnonymousHTTPClient(hclient.Transport)
	} else {
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			return nil, filestore.NewError(filestore.KindTransport, filestore.SchemeGCS, "connect", "",
				fmt.Errorf("failed to retrieve GCP credentials: %w", err))
		}

		client, err = gcp.NewHTTPClient(hclient.Transport, gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP HTTP client: %w", err)
		}
	}

	client.Timeout = hclient.Timeout

	return gcsblob.OpenBucket(ctx, client, o.bucket, nil)
}
