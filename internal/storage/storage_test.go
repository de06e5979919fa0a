package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsComplete(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  bool
	}{
		{
			name: "all set",
			creds: Credentials{
				Endpoint:        "https://acc.r2.cloudflarestorage.com",
				Bucket:          "chatflow",
				AccessKeyID:     "ak",
				SecretAccessKey: "sk",
			},
			want: true,
		},
		{
			name:  "empty",
			creds: Credentials{},
			want:  false,
		},
		{
			name: "missing secret",
			creds: Credentials{
				Endpoint:    "https://acc.r2.cloudflarestorage.com",
				AccessKeyID: "ak",
			},
			want: false,
		},
		{
			name: "whitespace only endpoint",
			creds: Credentials{
				Endpoint:        "   ",
				AccessKeyID:     "ak",
				SecretAccessKey: "sk",
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.creds.Complete())
		})
	}
}

func TestNewClientParsesEndpointScheme(t *testing.T) {
	c, err := NewClient(Credentials{
		Endpoint:        "https://account.r2.cloudflarestorage.com",
		Bucket:          "chatflow",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
	})
	require.NoError(t, err)
	assert.Equal(t, "account.r2.cloudflarestorage.com", c.mc.EndpointURL().Host)
	assert.Equal(t, "https", c.mc.EndpointURL().Scheme)

	c, err = NewClient(Credentials{
		Endpoint:        "http://localhost:9000",
		Bucket:          "chatflow",
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
	})
	require.NoError(t, err)
	assert.Equal(t, "http", c.mc.EndpointURL().Scheme)
}

func TestNewClientIncompleteCredentials(t *testing.T) {
	_, err := NewClient(Credentials{Endpoint: "https://x"})
	require.Error(t, err)
}
