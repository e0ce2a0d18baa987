package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listServer serves /file/list/query from a static map of directoryId to
// entries, plus the CSRF endpoint.
func listServer(t *testing.T, tree map[int64][]fileEntry, extra map[string]http.HandlerFunc) string {
	t.Helper()

	handlers := map[string]http.HandlerFunc{
		endpointFileList: func(w http.ResponseWriter, r *http.Request) {
			var req fileListRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			writeJSON(t, w, fileListResponse{
				apiResponse: apiResponse{Success: true},
				Total:       len(tree[req.DirectoryID]),
				Entries:     tree[req.DirectoryID],
			})
		},
	}

	for path, h := range extra {
		handlers[path] = h
	}

	return newAuthServer(t, handlers).URL
}

func TestList_ResolvesNestedPath(t *testing.T) {
	tree := map[int64][]fileEntry{
		0:  {{ID: 10, FileName: "Notes", IsFolder: "Y"}},
		10: {{ID: 20, FileName: "Work", IsFolder: "Y"}, {ID: 11, FileName: "a.pdf", IsFolder: "N", Size: 100}},
		20: {{ID: 21, FileName: "b.pdf", IsFolder: "N", Size: 42}},
	}

	client := newTestClient(t, listServer(t, tree, nil))

	entries, err := client.List(context.Background(), "/Notes/Work")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{ID: 21, Name: "b.pdf", IsFolder: false, Size: 42}, entries[0])
}

func TestList_Root(t *testing.T) {
	tree := map[int64][]fileEntry{
		0: {{ID: 10, FileName: "Notes", IsFolder: "Y"}, {ID: 11, FileName: "a.pdf", IsFolder: "N", Size: 7}},
	}

	client := newTestClient(t, listServer(t, tree, nil))

	entries, err := client.List(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsFolder)
	assert.False(t, entries[1].IsFolder)
}

func TestResolvePath_NotFound(t *testing.T) {
	tree := map[int64][]fileEntry{
		0: {{ID: 10, FileName: "Notes", IsFolder: "Y"}},
	}

	client := newTestClient(t, listServer(t, tree, nil))

	_, err := client.List(context.Background(), "/Missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePath_FileIsNotAFolder(t *testing.T) {
	tree := map[int64][]fileEntry{
		0: {{ID: 11, FileName: "a.pdf", IsFolder: "N"}},
	}

	client := newTestClient(t, listServer(t, tree, nil))

	// A file with a matching name must not satisfy folder resolution.
	_, err := client.List(context.Background(), "/a.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDirectory_Paginates(t *testing.T) {
	csrfAndList := map[string]http.HandlerFunc{
		endpointFileList: func(w http.ResponseWriter, r *http.Request) {
			var req fileListRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			var page []fileEntry
			if req.PageNo == 1 {
				for i := range listPageSize {
					page = append(page, fileEntry{ID: int64(i), FileName: fmt.Sprintf("f%d", i), IsFolder: "N"})
				}
			} else {
				page = []fileEntry{{ID: 999, FileName: "last", IsFolder: "N"}}
			}

			writeJSON(t, w, fileListResponse{apiResponse: apiResponse{Success: true}, Entries: page})
		},
	}

	client := newTestClient(t, newAuthServer(t, csrfAndList).URL)

	entries, err := client.listDirectory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, listPageSize+1)
	assert.Equal(t, "last", entries[listPageSize].Name)
}

func TestCreateDirectory(t *testing.T) {
	var gotCreate directoryCreateRequest

	tree := map[int64][]fileEntry{
		0: {{ID: 10, FileName: "Notes", IsFolder: "Y"}},
	}

	url := listServer(t, tree, map[string]http.HandlerFunc{
		endpointDirectoryCreate: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotCreate))
			writeJSON(t, w, apiResponse{Success: true})
		},
	})

	client := newTestClient(t, url)
	require.NoError(t, client.CreateDirectory(context.Background(), "Work", "/Notes"))
	assert.Equal(t, int64(10), gotCreate.DirectoryID)
	assert.Equal(t, "Work", gotCreate.FileName)
}

func TestCreateDirectory_Rejected(t *testing.T) {
	url := listServer(t, map[int64][]fileEntry{}, map[string]http.HandlerFunc{
		endpointDirectoryCreate: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, apiResponse{Success: false, ErrorMsg: "duplicate name"})
		},
	})

	client := newTestClient(t, url)
	err := client.CreateDirectory(context.Background(), "Work", "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestUpload_ThreeStepFlow(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "doc.pdf")
	content := []byte("pdf bytes here")
	require.NoError(t, os.WriteFile(localPath, content, 0o600))

	var (
		gotApply   uploadApplyRequest
		gotFinish  uploadFinishRequest
		putBody    []byte
		putAuth    string
		putDate    string
		putCalls   atomic.Int32
		storageURL string
	)

	tree := map[int64][]fileEntry{
		0: {{ID: 10, FileName: "Inbox", IsFolder: "Y"}},
	}

	url := listServer(t, tree, map[string]http.HandlerFunc{
		endpointUploadApply: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotApply))
			writeJSON(t, w, uploadApplyResponse{
				apiResponse:     apiResponse{Success: true},
				URL:             storageURL,
				S3Authorization: "AWS sig",
				XamzDate:        "20240101T000000Z",
			})
		},
		endpointUploadFinish: func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotFinish))
			writeJSON(t, w, apiResponse{Success: true})
		},
		"PUT /storage/doc.pdf": func(w http.ResponseWriter, r *http.Request) {
			putCalls.Add(1)

			var err error
			putBody, err = io.ReadAll(r.Body)
			require.NoError(t, err)
			putAuth = r.Header.Get("Authorization")
			putDate = r.Header.Get("x-amz-date")
			w.WriteHeader(http.StatusOK)
		},
	})
	storageURL = url + "/storage/doc.pdf"

	client := newTestClient(t, url)
	require.NoError(t, client.Upload(context.Background(), localPath, "/Inbox"))

	wantMD5 := md5Hex(string(content))
	assert.Equal(t, int64(10), gotApply.DirectoryID)
	assert.Equal(t, "doc.pdf", gotApply.FileName)
	assert.Equal(t, wantMD5, gotApply.MD5)
	assert.Equal(t, int64(len(content)), gotApply.Size)

	assert.Equal(t, int32(1), putCalls.Load())
	assert.Equal(t, content, putBody)
	assert.Equal(t, "AWS sig", putAuth)
	assert.Equal(t, "20240101T000000Z", putDate)

	assert.Equal(t, wantMD5, gotFinish.MD5)
	assert.Equal(t, int64(len(content)), gotFinish.FileSize)
}

func TestUpload_MissingFile(t *testing.T) {
	url := listServer(t, map[int64][]fileEntry{}, nil)
	client := newTestClient(t, url)

	err := client.Upload(context.Background(), "/nonexistent/file.pdf", "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening")
}

func TestUpload_StoragePUTFailure(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(localPath, []byte("x"), 0o600))

	var storageURL string

	url := listServer(t, map[int64][]fileEntry{}, map[string]http.HandlerFunc{
		endpointUploadApply: func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, uploadApplyResponse{apiResponse: apiResponse{Success: true}, URL: storageURL})
		},
		"PUT /storage/doc.pdf": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	storageURL = url + "/storage/doc.pdf"

	client := newTestClient(t, url)
	err := client.Upload(context.Background(), localPath, "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
}

func TestSplitPath(t *testing.T) {
	assert.Nil(t, splitPath("/"))
	assert.Equal(t, []string{"a", "b"}, splitPath("/a/b"))
	assert.Equal(t, []string{"a", "b"}, splitPath("a/b/"))
	assert.Equal(t, []string{"a", "b"}, splitPath("//a//b"))
}
