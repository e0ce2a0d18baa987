package sncloud

// UploadResult reports the outcome of uploading one file. Batch callers
// must be able to continue past individual failures, so upload errors are
// carried here as data rather than returned as errors.
type UploadResult struct {
	Success   bool
	FilePath  string // local path as given by the caller
	CloudPath string // normalized target folder
	FileName  string
	Error     string // empty on success
}

// FileInfo describes a file in the cloud.
type FileInfo struct {
	ID   int64
	Name string
	Path string
	Size int64
}

// FolderInfo describes a folder in the cloud. ID is 0 when the folder was
// just created — the creation response carries no ID.
type FolderInfo struct {
	ID   int64
	Name string
	Path string
}

// Entry is implemented by FileInfo and FolderInfo so ListFolder can return
// a mixed listing.
type Entry interface {
	EntryName() string
	IsDir() bool
}

// EntryName returns the file's name.
func (f FileInfo) EntryName() string { return f.Name }

// IsDir reports false for files.
func (f FileInfo) IsDir() bool { return false }

// EntryName returns the folder's name.
func (f FolderInfo) EntryName() string { return f.Name }

// IsDir reports true for folders.
func (f FolderInfo) IsDir() bool { return true }

// VerificationContext carries the state needed to complete an email
// verification round-trip. It is produced when the service flags a login
// for verification and must be passed back unchanged to Verify — it crosses
// a suspension point where a human reads an email.
type VerificationContext struct {
	Email        string
	Timestamp    string
	ValidCodeKey string
}

// complete reports whether all fields required by the code login are set.
func (v VerificationContext) complete() bool {
	return v.Email != "" && v.Timestamp != "" && v.ValidCodeKey != ""
}
