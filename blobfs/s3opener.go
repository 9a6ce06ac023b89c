package blobfs

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// imdsRegion looks up the region of the EC2 instance this is running on,
// from the instance metadata service. It's used when an s3 locator has
// region=imds.
func imdsRegion(ctx context.Context, hclient *http.Client) (string, error) {
	client := imds.New(imds.Options{HTTPClient: hclient})

	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", err
	}

	return out.Region, nil
}
