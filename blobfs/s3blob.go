package blobfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hairyhenderson/go-filestore"
	"github.com/hairyhenderson/go-filestore/internal/env"
	"gocloud.dev/blob"
	"gocloud.dev/blob/s3blob"
)

// s3-specific blobfs methods

// used when nothing else names a region, since the SDK requires one
const fallbackRegion = "us-east-1"

type s3Opener struct {
	// regionLookup finds the region when it's set to "imds"
	regionLookup func(ctx context.Context, hclient *http.Client) (string, error)

	bucket    string
	region    string
	endpoint  string
	accessKey string
	secretKey string
	pathStyle bool
	anonymous bool
}

// newS3Opener resolves the bucket, endpoint, region, and credentials for an
// s3 locator. Locators name either an endpoint host with the bucket in the
// path or in the bucket option:
//
//	s3://s3.amazonaws.com/?s3_bucket=mybucket&aws_region=us-east-1
//	s3://minio.local:9000/mybucket/prefix
//
// or, when the host is a single name without a port, the bucket itself:
//
//	s3://mybucket/prefix?region=eu-west-1
func newS3Opener(loc *filestore.Locator, envfs fs.FS) (*s3Opener, string, error) {
	o := &s3Opener{regionLookup: imdsRegion}
	prefix := loc.BasePath

	o.bucket = loc.Option("bucket", "s3_bucket")
	awsHost, hostRegion := parseAWSHost(loc.Host)

	switch {
	case o.bucket != "":
		if !awsHost {
			o.endpoint = endpointURL(loc)
		}
	case awsHost:
		o.bucket, prefix = splitBucket(loc.BasePath)
	case isEndpointHost(loc):
		o.endpoint = endpointURL(loc)
		o.bucket, prefix = splitBucket(loc.BasePath)
	default:
		o.bucket = loc.Host
	}

	if o.bucket == "" {
		return nil, "", errors.New("missing bucket name")
	}

	if o.endpoint == "" {
		if ep := loc.Option("endpoint", "aws_endpoint", "s3_endpoint"); ep != "" {
			o.endpoint = ensureScheme(ep, disableHTTPS(loc))
		} else if ep := env.GetenvFS(envfs, "AWS_S3_ENDPOINT"); ep != "" && !awsHost {
			o.endpoint = ensureScheme(ep, disableHTTPS(loc))
		}
	}

	o.region = loc.Option("region", "aws_region")
	if o.region == "" {
		o.region = env.GetenvFS(envfs, "AWS_REGION", env.GetenvFS(envfs, "AWS_DEFAULT_REGION", hostRegion))
	}

	// custom endpoints rarely support virtual-hosted-style requests
	o.pathStyle = o.endpoint != ""
	if v := loc.Option("use_path_style", "s3ForcePathStyle"); v != "" {
		o.pathStyle = v == "true"
	}

	if loc.HasCredentials() {
		o.accessKey, o.secretKey = loc.User, loc.Secret
	}

	o.anonymous = loc.Option("anonymous") == "true" || env.GetenvFS(envfs, "AWS_ANON") == "true"

	return o, prefix, nil
}

func (o *s3Opener) bucketName() string {
	return o.bucket
}

func (o *s3Opener) open(ctx context.Context, hc clientConfig) (*blob.Bucket, error) {
	region := o.region
	if region == "imds" {
		r, err := o.regionLookup(ctx, hc.client(http.DefaultTransport))
		if err != nil {
			return nil, fmt.Errorf("couldn't get region from IMDS: %w", err)
		}

		region = r
	}

	opts := []func(*config.LoadOptions) error{}

	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	switch {
	case o.anonymous:
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case o.accessKey != "" || o.secretKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, filestore.NewError(filestore.KindTransport, filestore.SchemeS3, "connect", "",
			fmt.Errorf("load AWS config: %w", err))
	}

	if cfg.Region == "" {
		cfg.Region = fallbackRegion
	}

	// a custom CA bundle (AWS_CA_BUNDLE or ca_bundle) is applied to the
	// config's buildable client, so its transport is the base to instrument
	var base http.RoundTripper = http.DefaultTransport
	if bc, ok := cfg.HTTPClient.(*awshttp.BuildableClient); ok {
		base = bc.GetTransport()
	}

	hclient := hc.client(base)

	client := s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
		}

		opts.UsePathStyle = o.pathStyle
		opts.HTTPClient = hclient
	})

	return s3blob.OpenBucketV2(ctx, client, o.bucket, nil)
}

// parseAWSHost reports whether host is one of AWS's S3 endpoints, and the
// region it names, if any (e.g. s3.eu-west-1.amazonaws.com)
func parseAWSHost(host string) (bool, string) {
	host = strings.ToLower(host)

	rest, ok := strings.CutSuffix(host, ".amazonaws.com")
	if !ok {
		return false, ""
	}

	for _, p := range []string{"s3.", "s3-"} {
		if region, ok := strings.CutPrefix(rest, p); ok {
			return true, region
		}
	}

	return rest == "s3", ""
}

// isEndpointHost decides whether a non-AWS host names an S3-compatible
// endpoint rather than a bucket
func isEndpointHost(loc *filestore.Locator) bool {
	return loc.Port != 0 || loc.Host == "localhost" || net.ParseIP(loc.Host) != nil
}

func endpointURL(loc *filestore.Locator) string {
	host := loc.Host
	if loc.Port != 0 {
		host = loc.Address(0)
	}

	return ensureScheme(host, disableHTTPS(loc))
}

func disableHTTPS(loc *filestore.Locator) bool {
	return loc.Option("disable_https", "disableSSL") == "true" || loc.Option("use_ssl") == "false"
}

// ensureScheme makes sure the endpoint is a parseable URL with a scheme
func ensureScheme(endpoint string, insecure bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}

	if insecure {
		return "http://" + endpoint
	}

	return "https://" + endpoint
}

// splitBucket splits the first segment (the bucket) from a path
func splitBucket(p string) (bucket, prefix string) {
	p = strings.TrimPrefix(p, "/")
	bucket, prefix, _ = strings.Cut(p, "/")

	return bucket, prefix
}
