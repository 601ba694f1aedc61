package credentials_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantive/eventfold/pkg/credentials"
)

func TestStaticProvider(t *testing.T) {
	provider := credentials.Static{User: "app", Password: "s3cret"}

	creds, err := provider.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app", creds.User)
	assert.Equal(t, "s3cret", creds.Password)
}

func TestStaticProviderRequiresUser(t *testing.T) {
	provider := credentials.Static{Password: "s3cret"}

	_, err := provider.Credentials(context.Background())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, credentials.Credentials{User: "app"}.Validate())
	assert.Error(t, credentials.Credentials{}.Validate())
}
