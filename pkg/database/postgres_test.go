package database

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-scheduling-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:           "db.internal",
		Port:           5433,
		User:           "scheduler",
		Password:       "p@ss word",
		Name:           "tutoring",
		SSLMode:        "disable",
		ConnectTimeout: 3 * time.Second,
	})

	parsed, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", parsed.Scheme)
	assert.Equal(t, "db.internal:5433", parsed.Host)
	assert.Equal(t, "/tutoring", parsed.Path)
	assert.Equal(t, "scheduler", parsed.User.Username())
	password, _ := parsed.User.Password()
	assert.Equal(t, "p@ss word", password)

	query := parsed.Query()
	assert.Equal(t, "disable", query.Get("sslmode"))
	assert.Equal(t, "3", query.Get("connect_timeout"))
	assert.Equal(t, "UTC", query.Get("timezone"))
	assert.Equal(t, applicationName, query.Get("application_name"))
}

func TestDSNOmitsZeroConnectTimeout(t *testing.T) {
	parsed, err := url.Parse(DSN(config.DatabaseConfig{Host: "localhost", Port: 5432, Name: "tutoring", SSLMode: "require"}))
	require.NoError(t, err)
	assert.Empty(t, parsed.Query().Get("connect_timeout"))
}
