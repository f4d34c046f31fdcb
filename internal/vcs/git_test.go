package vcs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nomdn/dress-api/internal/models"
	"github.com/nomdn/dress-api/internal/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLog(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []models.Commit
		wantErr bool
	}{
		{name: "empty", in: "", want: nil},
		{
			name: "two commits",
			in:   "abc|Yan|y@example.com|2024-02-01T10:00:00+08:00\ndef|Xu|x@example.com|2023-01-01T00:00:00Z\n",
			want: []models.Commit{
				{Hash: "abc", Author: models.Contributor{Name: "Yan", Email: "y@example.com"}, Date: "2024-02-01T10:00:00+08:00"},
				{Hash: "def", Author: models.Contributor{Name: "Xu", Email: "x@example.com"}, Date: "2023-01-01T00:00:00Z"},
			},
		},
		{
			name: "pipe in name",
			in:   "abc|A|B|ab@example.com|2024-02-01T10:00:00Z",
			want: []models.Commit{
				{Hash: "abc", Author: models.Contributor{Name: "A|B", Email: "ab@example.com"}, Date: "2024-02-01T10:00:00Z"},
			},
		},
		{name: "blank lines skipped", in: "\n\nabc|n|e|d\n\n", want: []models.Commit{
			{Hash: "abc", Author: models.Contributor{Name: "n", Email: "e"}, Date: "d"},
		}},
		{name: "too few fields", in: "abc|name", wantErr: true},
		{name: "no separator", in: "garbage", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLog(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepo_ListCommitsFollowsRenames(t *testing.T) {
	r := vcstest.New(t)
	r.WriteAndCommit("old/a.jpg", "v1", "X", "x@example.com", "2023-01-01T00:00:00Z")
	require.NoError(t, os.MkdirAll(filepath.Join(r.Dir, "new"), 0755))
	r.Git("mv", "old/a.jpg", "new/a.jpg")
	r.Commit("Y", "y@example.com", "2023-06-01T00:00:00Z", "move")
	r.WriteAndCommit("new/a.jpg", "v2", "Y", "y@example.com", "2024-01-01T00:00:00Z")

	repo := NewRepo(r.Dir, 5*time.Second)
	require.True(t, repo.Exists())
	commits, err := repo.ListCommits(context.Background(), "new/a.jpg")
	require.NoError(t, err)
	require.Len(t, commits, 3)
	assert.Equal(t, "Y", commits[0].Author.Name)
	assert.Equal(t, "X", commits[2].Author.Name)
	assert.True(t, strings.HasPrefix(commits[2].Date, "2023-01-01T00:00:00"))
}

func TestRepo_ListCommitsLiteralPathspec(t *testing.T) {
	r := vcstest.New(t)
	r.WriteAndCommit("c#1.gif", "gif", "Z", "z@example.com", "2023-01-01T00:00:00Z")
	r.WriteAndCommit("a*.png", "png", "W", "w@example.com", "2023-01-02T00:00:00Z")

	repo := NewRepo(r.Dir, 0)
	commits, err := repo.ListCommits(context.Background(), "c#1.gif")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "Z", commits[0].Author.Name)

	commits, err = repo.ListCommits(context.Background(), "a*.png")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "W", commits[0].Author.Name)
}

func TestRepo_ListCommitsUntrackedFileHasNoCommits(t *testing.T) {
	r := vcstest.New(t)
	r.WriteAndCommit("a.jpg", "v1", "X", "x@example.com", "2023-01-01T00:00:00Z")
	r.Write("b.png", "untracked")

	commits, err := NewRepo(r.Dir, 0).ListCommits(context.Background(), "b.png")
	require.NoError(t, err)
	assert.Empty(t, commits)

	// Later commits of other paths leave it untracked.
	r.WriteAndCommit("d.webp", "webp", "W", "w@example.com", "2023-02-01T00:00:00Z")
	commits, err = NewRepo(r.Dir, 0).ListCommits(context.Background(), "b.png")
	require.NoError(t, err)
	assert.Empty(t, commits)
	assert.Contains(t, r.Git("status", "--porcelain"), "?? b.png")
}

func TestRepo_ListCommitsOutsideRepositoryFails(t *testing.T) {
	vcstest.New(t) // skips without git
	_, err := NewRepo(t.TempDir(), 0).ListCommits(context.Background(), "a.jpg")
	require.Error(t, err)
}

func TestClone(t *testing.T) {
	src := vcstest.New(t)
	src.WriteAndCommit("a.jpg", "v1", "X", "x@example.com", "2023-01-01T00:00:00Z")

	dst := filepath.Join(t.TempDir(), "checkout", "Dress")
	repo, err := Clone(context.Background(), src.Dir, "master", dst, 2, 30*time.Second, nil)
	require.NoError(t, err)
	assert.True(t, repo.Exists())
	_, err = os.Stat(filepath.Join(dst, "a.jpg"))
	require.NoError(t, err)

	src.WriteAndCommit("b.png", "v1", "Y", "y@example.com", "2023-02-01T00:00:00Z")
	require.NoError(t, repo.Pull(context.Background()))
	_, err = os.Stat(filepath.Join(dst, "b.png"))
	require.NoError(t, err)

	srcHead := strings.TrimSpace(src.Git("rev-parse", "HEAD"))
	head, err := repo.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srcHead, head)
}

func TestClone_GivesUpAfterAttempts(t *testing.T) {
	vcstest.New(t)
	dst := filepath.Join(t.TempDir(), "Dress")
	_, err := Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), "master", dst, 2, 10*time.Second, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}
