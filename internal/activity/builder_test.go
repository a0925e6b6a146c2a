package activity

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedifeed/relay/internal/models"
)

func TestNewBuilderBaseURL(t *testing.T) {
	tests := []struct {
		in    string
		actor string
	}{
		{"relay.example", "https://relay.example/users/alice"},
		{"https://relay.example/", "https://relay.example/users/alice"},
		{"localhost:8080", "http://localhost:8080/users/alice"},
		{"http://relay.example/base", "http://relay.example/base/users/alice"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, err := NewBuilder(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.actor, b.ActorURL("alice"))
		})
	}

	_, err := NewBuilder("")
	assert.Error(t, err)
}

func TestBuildActivityDocument(t *testing.T) {
	b, err := NewBuilder("https://relay.example")
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC) }

	post := models.Post{
		ID:       "p1",
		Title:    "Tom & Jerry <3",
		Link:     sql.NullString{String: "https://blog.example/1", Valid: true},
		ImageURL: sql.NullString{String: "https://cdn.example/i.png", Valid: true},
	}
	owner := models.Owner{Username: "alice"}

	doc, err := b.BuildActivityDocument(post, owner)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(doc, &got))
	assert.Equal(t, "Create", got["type"])
	assert.Equal(t, "https://relay.example/users/alice", got["actor"])
	assert.Equal(t, "2025-06-01T09:30:00Z", got["published"])

	obj := got["object"].(map[string]any)
	assert.Equal(t, "Note", obj["type"])
	assert.Equal(t, "https://relay.example/users/alice/posts/p1", obj["id"])
	assert.Equal(t, `<p>Tom &amp; Jerry &lt;3</p><p><a href="https://blog.example/1">https://blog.example/1</a></p>`, obj["content"])
	assert.Equal(t, []any{publicTarget}, obj["to"])
	assert.Len(t, obj["attachment"], 1)
}

func TestBuildActivityDocumentErrors(t *testing.T) {
	b, err := NewBuilder("https://relay.example")
	require.NoError(t, err)

	_, err = b.BuildActivityDocument(models.Post{ID: "p"}, models.Owner{})
	assert.Error(t, err)
	_, err = b.BuildActivityDocument(models.Post{}, models.Owner{Username: "alice"})
	assert.Error(t, err)
}

func TestBuildIdentityDocument(t *testing.T) {
	b, err := NewBuilder("https://relay.example")
	require.NoError(t, err)

	owner := models.Owner{
		Username:     "alice",
		DisplayName:  "Alice",
		PublicKeyPEM: sql.NullString{String: "-----BEGIN PUBLIC KEY-----", Valid: true},
	}
	doc, err := b.BuildIdentityDocument(owner)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(doc, &got))
	assert.Equal(t, "Person", got["type"])
	assert.Equal(t, "alice", got["preferredUsername"])
	assert.Equal(t, "https://relay.example/users/alice/inbox", got["inbox"])
	key := got["publicKey"].(map[string]any)
	assert.Equal(t, "https://relay.example/users/alice#main-key", key["id"])
}
