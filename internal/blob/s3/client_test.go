package s3blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(fmt.Errorf("head bucket: %w", &types.NoSuchBucket{})))
	assert.False(t, isNotFound(errors.New("access denied")))
	assert.False(t, isNotFound(&types.NoSuchKey{}))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(t.Context(), ClientConfig{Region: "us-east-1"})
	require.ErrorContains(t, err, "bucket name is required")

	_, err = New(t.Context(), ClientConfig{Bucket: "quantlab"})
	require.ErrorContains(t, err, "region is required")
}
