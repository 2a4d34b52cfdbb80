package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/services"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		scheme  string
		raw     map[string]string
		wantErr error
	}{
		{"memory", "memory", map[string]string{}, nil},
		{"fs", "fs", map[string]string{"root": t.TempDir()}, nil},
		{"sqlite", "sqlite", map[string]string{"dsn": ":memory:"}, nil},
		{"http", "http", map[string]string{"endpoint": "https://example.com"}, nil},
		{"s3 offline", "s3", map[string]string{"endpoint": "localhost:9000", "bucket": "b", "region": "us-east-1"}, nil},
		{"unknown scheme", "ftp", nil, anystore.ErrUnsupported},
		{"unknown key", "memory", map[string]string{"colour": "red"}, anystore.ErrInvalidInput},
		{"fs without root", "fs", map[string]string{}, anystore.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := services.New(ctx, tt.scheme, tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, acc)
				return
			}
			require.NoError(t, err)
			defer func() { assert.NoError(t, services.Close(acc)) }()
			assert.Equal(t, tt.scheme, acc.Info().Scheme)
		})
	}
}

func TestSchemes(t *testing.T) {
	assert.Equal(t, []string{"fs", "http", "memory", "postgres", "s3", "sqlite"}, services.Schemes())
}
