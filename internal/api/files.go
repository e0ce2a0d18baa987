package api

import (
	"context"
	"crypto/md5" //nolint:gosec // content digest mandated by the upload protocol
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Wire endpoints for the file plane.
const (
	endpointFileList        = "/file/list/query"
	endpointDirectoryCreate = "/file/directory/create"
	endpointUploadApply     = "/file/upload/apply"
	endpointUploadFinish    = "/file/upload/finish"
)

// rootDirectoryID is the well-known ID of the account's root folder.
const rootDirectoryID int64 = 0

// listPageSize is the page size for listing requests; pages are fetched
// until a short page signals the end.
const listPageSize = 100

// Entry is a single item in a directory listing, normalized from the wire
// representation. Callers never see raw API data.
type Entry struct {
	ID       int64
	Name     string
	IsFolder bool
	Size     int64
}

type fileListRequest struct {
	DirectoryID int64  `json:"directoryId"`
	PageNo      int    `json:"pageNo"`
	PageSize    int    `json:"pageSize"`
	Order       string `json:"order"`
	Sequence    string `json:"sequence"`
}

// fileEntry mirrors the listing JSON exactly. isFolder is the service's
// "Y"/"N" flag.
type fileEntry struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName"`
	IsFolder string `json:"isFolder"`
	Size     int64  `json:"size"`
}

type fileListResponse struct {
	apiResponse
	Total   int         `json:"total"`
	Entries []fileEntry `json:"userFileVOList"`
}

type directoryCreateRequest struct {
	DirectoryID int64  `json:"directoryId"`
	FileName    string `json:"fileName"`
}

type uploadApplyRequest struct {
	DirectoryID int64  `json:"directoryId"`
	FileName    string `json:"fileName"`
	MD5         string `json:"md5"`
	Size        int64  `json:"size"`
}

type uploadApplyResponse struct {
	apiResponse
	URL             string `json:"url"`
	S3Authorization string `json:"s3Authorization"`
	XamzDate        string `json:"xamzDate"`
}

type uploadFinishRequest struct {
	DirectoryID int64  `json:"directoryId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MD5         string `json:"md5"`
}

// List returns the entries under the given slash-separated folder path.
// The wire protocol is ID-based; the path is resolved by walking folder
// names from the root.
func (c *Client) List(ctx context.Context, path string) ([]Entry, error) {
	dirID, err := c.ResolvePath(ctx, path)
	if err != nil {
		return nil, err
	}

	return c.listDirectory(ctx, dirID)
}

// ResolvePath walks a slash-separated path from the root, matching each
// segment against folder names in the parent listing. Names are compared
// NFC-normalized because the service stores names as typed on devices with
// differing Unicode composition.
func (c *Client) ResolvePath(ctx context.Context, path string) (int64, error) {
	dirID := rootDirectoryID

	for _, segment := range splitPath(path) {
		entries, err := c.listDirectory(ctx, dirID)
		if err != nil {
			return 0, err
		}

		found := false
		want := norm.NFC.String(segment)

		for _, e := range entries {
			if e.IsFolder && norm.NFC.String(e.Name) == want {
				dirID = e.ID
				found = true

				break
			}
		}

		if !found {
			return 0, &APIError{Message: fmt.Sprintf("folder %q not found", path), Err: ErrNotFound}
		}
	}

	return dirID, nil
}

// listDirectory fetches all pages of a directory listing by ID.
func (c *Client) listDirectory(ctx context.Context, dirID int64) ([]Entry, error) {
	var entries []Entry

	for pageNo := 1; ; pageNo++ {
		req := fileListRequest{
			DirectoryID: dirID,
			PageNo:      pageNo,
			PageSize:    listPageSize,
			Order:       "time",
			Sequence:    "desc",
		}

		var resp fileListResponse
		if err := c.apiCall(ctx, endpointFileList, req, &resp); err != nil {
			return nil, err
		}

		if !resp.Success {
			return nil, resp.rejection("listing failed")
		}

		for _, raw := range resp.Entries {
			entries = append(entries, Entry{
				ID:       raw.ID,
				Name:     raw.FileName,
				IsFolder: raw.IsFolder == "Y",
				Size:     raw.Size,
			})
		}

		if len(resp.Entries) < listPageSize {
			return entries, nil
		}
	}
}

// CreateDirectory creates a folder under parentPath. The creation response
// carries no ID for the new folder.
func (c *Client) CreateDirectory(ctx context.Context, name, parentPath string) error {
	parentID, err := c.ResolvePath(ctx, parentPath)
	if err != nil {
		return err
	}

	var resp apiResponse
	if err := c.apiCall(ctx, endpointDirectoryCreate, directoryCreateRequest{DirectoryID: parentID, FileName: name}, &resp); err != nil {
		return err
	}

	if !resp.Success {
		return resp.rejection("directory creation failed")
	}

	c.logger.Info("created folder", slog.String("name", name), slog.String("parent", parentPath))

	return nil
}

// Upload transfers a local file into the folder at parentPath using the
// service's three-step flow: apply for an upload slot, PUT the bytes to the
// storage URL the slot names, then finish to register the file.
func (c *Client) Upload(ctx context.Context, localPath, parentPath string) error {
	dirID, err := c.ResolvePath(ctx, parentPath)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("api: opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("api: stat %s: %w", localPath, err)
	}

	digest, err := fileMD5(f)
	if err != nil {
		return err
	}

	fileName := filepath.Base(localPath)

	apply := uploadApplyRequest{
		DirectoryID: dirID,
		FileName:    fileName,
		MD5:         digest,
		Size:        info.Size(),
	}

	var slot uploadApplyResponse
	if err := c.apiCall(ctx, endpointUploadApply, apply, &slot); err != nil {
		return err
	}

	if !slot.Success {
		return slot.rejection("upload apply failed")
	}

	if slot.URL == "" {
		return &APIError{Message: "upload apply response missing storage URL", Err: ErrRejected}
	}

	if err := c.putFile(ctx, &slot, f, info.Size()); err != nil {
		return err
	}

	finish := uploadFinishRequest{
		DirectoryID: dirID,
		FileName:    fileName,
		FileSize:    info.Size(),
		MD5:         digest,
	}

	var resp apiResponse
	if err := c.apiCall(ctx, endpointUploadFinish, finish, &resp); err != nil {
		return err
	}

	if !resp.Success {
		return resp.rejection("upload finish failed")
	}

	c.logger.Info("uploaded file",
		slog.String("name", fileName),
		slog.String("folder", parentPath),
		slog.Int64("size", info.Size()),
	)

	return nil
}

// putFile streams the file bytes to the storage URL from an upload slot.
// This is a raw PUT against a different host: no CSRF header, no JSON
// envelope, authorization via the slot's pre-signed headers.
func (c *Client) putFile(ctx context.Context, slot *uploadApplyResponse, f *os.File, size int64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("api: rewinding upload file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.URL, f)
	if err != nil {
		return fmt.Errorf("api: creating storage request: %w", err)
	}

	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)

	if slot.S3Authorization != "" {
		req.Header.Set("Authorization", slot.S3Authorization)
	}

	if slot.XamzDate != "" {
		req.Header.Set("x-amz-date", slot.XamzDate)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: storage PUT: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		return &APIError{StatusCode: resp.StatusCode, Message: string(errBody), Err: classifyStatus(resp.StatusCode)}
	}

	return nil
}

// fileMD5 computes the hex MD5 digest of the file's contents, consuming it
// from the current offset.
func fileMD5(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec // see file header
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("api: hashing upload file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// splitPath breaks a slash-separated cloud path into segments, ignoring
// empty segments from doubled or trailing slashes.
func splitPath(path string) []string {
	var segments []string

	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	return segments
}
