package importer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fedifeed/relay/internal/config"
	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/storage"
	"fedifeed/relay/internal/testutil"
)

const sourcesCSV = `owner,url,title,schedule,auto_deliver,active
alice,https://a.example/feed,A feed,15m,,
alice,https://b.example/feed,,@hourly,false,true
alice,https://a.example/feed,again,,,

bob,https://c.example/feed,,,,
alice,https://d.example/feed,,every tuesday,,
alice,https://e.example/feed,,,maybe,
alice,,,,,
`

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func bySource(t *testing.T, s *storage.Store) map[string]models.Source {
	t.Helper()
	list, err := s.ListSources(context.Background())
	require.NoError(t, err)
	out := map[string]models.Source{}
	for _, src := range list {
		out[src.URL] = src
	}
	return out
}

func TestImportSources(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	testutil.MustOwner(t, s, "alice")

	summary, err := NewImporter(s).ImportSources(ctx, writeCSV(t, sourcesCSV), false)
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 2, summary.Imported)
	require.Len(t, summary.Errors, 5)
	assert.Contains(t, summary.Errors[0], "duplicate URL: https://a.example/feed")
	assert.Contains(t, summary.Errors[1], `unknown owner "bob"`)
	assert.Contains(t, summary.Errors[2], "every tuesday")
	assert.Contains(t, summary.Errors[3], "not a boolean")
	assert.Contains(t, summary.Errors[4], "empty URL")

	sources := bySource(t, s)
	require.Len(t, sources, 2)
	a := sources["https://a.example/feed"]
	assert.Equal(t, "A feed", a.Title)
	assert.Equal(t, "15m", a.Schedule)
	assert.True(t, a.AutoDeliver)
	assert.True(t, a.Active)

	b := sources["https://b.example/feed"]
	assert.Equal(t, "https://b.example/feed", b.Title)
	assert.False(t, b.AutoDeliver)
}

func TestImportSourcesUpdate(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	testutil.MustOwner(t, s, "alice")
	imp := NewImporter(s)

	_, err := imp.ImportSources(ctx, writeCSV(t, "owner,url,title\nalice,https://a.example/feed,Old\n"), false)
	require.NoError(t, err)
	before := bySource(t, s)["https://a.example/feed"]

	summary, err := imp.ImportSources(ctx, writeCSV(t, "owner,url,title,active\nalice,https://a.example/feed,New,false\n"), true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)
	assert.Empty(t, summary.Errors)

	after := bySource(t, s)["https://a.example/feed"]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "New", after.Title)
	assert.False(t, after.Active)
}

func TestImportSourcesFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sources.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("owner,url\nalice,https://a.example/feed\n"))
	}))
	defer srv.Close()

	ctx := context.Background()
	s := testutil.OpenStore(t)
	testutil.MustOwner(t, s, "alice")
	imp := NewImporter(s)

	summary, err := imp.ImportSources(ctx, srv.URL+"/sources.csv", false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)

	_, err = imp.ImportSources(ctx, srv.URL+"/missing.csv", false)
	assert.ErrorContains(t, err, "HTTP status 404")
}

func TestImportSourcesBadInput(t *testing.T) {
	s := testutil.OpenStore(t)
	imp := NewImporter(s)

	_, err := imp.ImportSources(context.Background(), writeCSV(t, "url,title\nhttps://a.example/feed,A\n"), false)
	assert.ErrorContains(t, err, "required column 'owner'")

	_, err = imp.ImportSources(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), false)
	assert.Error(t, err)
}

func writeKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "alice.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))
	return path
}

func TestApplyConfig(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	off := false

	cfg := config.DefaultConfig()
	cfg.Owners = []config.OwnerConfig{{
		Username:       "alice",
		DisplayName:    "Alice's News",
		PrivateKeyFile: writeKey(t),
		Sources: []config.SourceConfig{
			{URL: "https://a.example/feed", Schedule: "30m"},
			{URL: "https://b.example/feed", Title: "B", AutoDeliver: &off},
		},
		Recipients: []config.RecipientConfig{
			{Actor: "https://remote.example/users/bob", Inbox: "https://remote.example/users/bob/inbox", Name: "Bob"},
		},
	}}

	imp := NewImporter(s)
	require.NoError(t, imp.ApplyConfig(ctx, cfg))
	require.NoError(t, imp.ApplyConfig(ctx, cfg))

	owner, err := s.GetOwnerByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice's News", owner.DisplayName)
	assert.True(t, owner.Active)
	assert.Contains(t, owner.PrivateKeyPEM.String, "PRIVATE KEY")
	assert.Contains(t, owner.PublicKeyPEM.String, "PUBLIC KEY")

	sources := bySource(t, s)
	require.Len(t, sources, 2)
	assert.Equal(t, "30m", sources["https://a.example/feed"].Schedule)
	assert.True(t, sources["https://a.example/feed"].AutoDeliver)
	assert.Equal(t, "B", sources["https://b.example/feed"].Title)
	assert.False(t, sources["https://b.example/feed"].AutoDeliver)
	for _, src := range sources {
		assert.Equal(t, owner.ID, src.OwnerID)
	}

	recipients, err := s.ListActiveRecipients(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "Bob", recipients[0].DisplayName.String)
}

func TestApplyConfigErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		owner config.OwnerConfig
		want  string
	}{
		{
			name:  "missing key file",
			owner: config.OwnerConfig{Username: "alice", PrivateKeyFile: "/nonexistent/key.pem"},
			want:  "read key file",
		},
		{
			name:  "bad schedule",
			owner: config.OwnerConfig{Username: "alice", Sources: []config.SourceConfig{{URL: "https://a.example/feed", Schedule: "often"}}},
			want:  "often",
		},
		{
			name:  "relative inbox",
			owner: config.OwnerConfig{Username: "alice", Recipients: []config.RecipientConfig{{Inbox: "/inbox"}}},
			want:  "invalid endpoint",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Owners = []config.OwnerConfig{tt.owner}
			err := NewImporter(testutil.OpenStore(t)).ApplyConfig(ctx, cfg)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
