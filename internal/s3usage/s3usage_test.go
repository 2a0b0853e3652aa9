package s3usage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/estatecrm/internal/s3usage"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params, optFns)
	if out := args.Get(0); out != nil {
		return out.(*s3.ListObjectsV2Output), args.Error(1)
	}
	return nil, args.Error(1)
}

func object(key string, size int64) types.Object {
	return types.Object{Key: aws.String(key), Size: aws.Int64(size)}
}

func newCounter(t *testing.T, client *mockS3Client) *s3usage.Counter {
	t.Helper()
	c, err := s3usage.New(context.Background(), s3usage.Config{
		Bucket: "crm-files",
		Region: "ap-south-1",
		Prefix: "tenants",
	}, s3usage.WithClient(client))
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  s3usage.Config
	}{
		{"missing bucket", s3usage.Config{Region: "ap-south-1"}},
		{"missing region", s3usage.Config{Bucket: "crm-files"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s3usage.New(context.Background(), tt.cfg, s3usage.WithClient(&mockS3Client{}))
			assert.ErrorIs(t, err, s3usage.ErrInvalidConfig)
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()

	assert.False(t, s3usage.Config{}.Enabled())
	assert.True(t, s3usage.Config{Bucket: "crm-files"}.Enabled())
}

func TestTenantBytes_SumsAllPages(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	prefix := "tenants/" + tenantID.String() + "/"

	client := &mockS3Client{}
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == prefix && in.ContinuationToken == nil
	}), mock.Anything).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{object(prefix+"brochure.pdf", 1024), object(prefix+"plan.png", 2048)},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("page-2"),
	}, nil).Once()
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "page-2"
	}), mock.Anything).Return(&s3.ListObjectsV2Output{
		Contents:    []types.Object{object(prefix+"agreement.pdf", 4096), {Key: aws.String(prefix + "empty")}},
		IsTruncated: aws.Bool(false),
	}, nil).Once()

	total, err := newCounter(t, client).TenantBytes(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(7168), total)
	client.AssertExpectations(t)
}

func TestTenantBytes_EmptyPrefix(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{}
	client.On("ListObjectsV2", mock.Anything, mock.Anything, mock.Anything).
		Return(&s3.ListObjectsV2Output{}, nil).Once()

	total, err := newCounter(t, client).TenantBytes(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestTenantBytes_ListError(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{}
	client.On("ListObjectsV2", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("access denied")).Once()

	_, err := newCounter(t, client).TenantBytes(context.Background(), uuid.New())
	assert.ErrorIs(t, err, s3usage.ErrListFailed)
	assert.ErrorContains(t, err, "access denied")
}

func TestCounterFunc(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	client := &mockS3Client{}
	client.On("ListObjectsV2", mock.Anything, mock.Anything, mock.Anything).
		Return(&s3.ListObjectsV2Output{Contents: []types.Object{object("x", 10)}}, nil).Once()

	count := newCounter(t, client).CounterFunc()
	n, err := count(context.Background(), tenantID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}
