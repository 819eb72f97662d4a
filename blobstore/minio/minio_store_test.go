package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestKeyPrefixing(t *testing.T) {
	s := NewStore(nil, "bucket", "cardex/images")

	assert.Equal(t, "cardex/images/card-1.jpg", s.key("card-1.jpg"))
	assert.Equal(t, "cardex/images/a/b.jpg", s.key("a/b.jpg"))

	noPrefix := NewStore(nil, "bucket", "")
	assert.Equal(t, "card-1.jpg", noPrefix.key("card-1.jpg"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("plain error")))
}
