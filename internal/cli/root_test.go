package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prudhvinik1/changesync/internal/client"
	"github.com/prudhvinik1/changesync/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"sync"}, {"watch"}, {"cursor", "get"}, {"cursor", "set"}, {"cursor", "reset"},
		{"cursor", "remote"}, {"token"}, {"kv", "list"}, {"kv", "put"}, {"kv", "delete"}, {"hash-secret"},
	}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestCursorCommands(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "settings.json")
	base := []string{"--settings", settings, "--account", "alice"}

	_, err := execute(t, "", append([]string{"cursor", "set", "12"}, base...)...)
	require.NoError(t, err)

	out, err := execute(t, "", append([]string{"cursor", "get"}, base...)...)
	require.NoError(t, err)
	assert.Equal(t, "12\n", out)

	_, err = execute(t, "", append([]string{"cursor", "reset"}, base...)...)
	require.NoError(t, err)

	cursor, err := client.NewCursorStore(settings).ReadCursor("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
}

func TestCursorRequiresAccount(t *testing.T) {
	t.Setenv("CHANGESYNC_ACCOUNT", "")

	_, err := execute(t, "", "cursor", "get", "--settings", filepath.Join(t.TempDir(), "s.json"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "--account")
}

func TestHashSecret(t *testing.T) {
	out, err := execute(t, "correct horse battery\n", "hash-secret")

	require.NoError(t, err)
	assert.True(t, utils.CheckSecret(strings.TrimSpace(out), "correct horse battery"))
}

func TestSyncCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"changes":[{"cursor":1,"kind":"kv","entityId":"theme","changedAt":1,"hint":{"keys":["theme"]}}],"nextCursor":1}`))
	}))
	defer srv.Close()
	settings := filepath.Join(t.TempDir(), "settings.json")

	out, err := execute(t, "", "sync", "--server", srv.URL, "--settings", settings, "--account", "alice")

	require.NoError(t, err)
	assert.Contains(t, out, "1\tkv\ttheme")
	assert.Contains(t, out, "kv: keys theme")
	assert.Contains(t, out, "cursor 0 -> 1")
}

func TestUpdatesURL(t *testing.T) {
	u, err := updatesURL("https://sync.example.com/", "tok")

	require.NoError(t, err)
	assert.Equal(t, "wss://sync.example.com/v2/updates?scope=user-scoped&token=tok", u)
}
