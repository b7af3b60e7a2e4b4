package xhealthstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Mongo 后端的读写路径测试见 mongo_integration_test.go（integration 构建标签）。

func TestNewMongo_NilClient(t *testing.T) {
	s, err := NewMongo(nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestMongoOptions_Defaults(t *testing.T) {
	o := defaultMongoOptions()
	assert.Equal(t, "sourcegate", o.Database)
	assert.Equal(t, "source_health", o.Collection)
	assert.Equal(t, defaultCASAttempts, o.CASAttempts)
	assert.Equal(t, defaultCASRetryDelay, o.CASRetryDelay)
}

func TestMongoOptions_With(t *testing.T) {
	o := defaultMongoOptions()
	WithDatabase("mydb")(o)
	WithCollection("mycoll")(o)
	WithMongoCASRetry(3, 10*time.Millisecond)(o)

	assert.Equal(t, "mydb", o.Database)
	assert.Equal(t, "mycoll", o.Collection)
	assert.Equal(t, 3, o.CASAttempts)
	assert.Equal(t, 10*time.Millisecond, o.CASRetryDelay)
}

func TestMongoOptions_EmptyIgnored(t *testing.T) {
	o := defaultMongoOptions()
	WithDatabase("")(o)
	WithCollection("")(o)

	assert.Equal(t, "sourcegate", o.Database)
	assert.Equal(t, "source_health", o.Collection)
}
