package domain

// TestFile describes a provisioned payload. SizeBytes always equals the on-disk
// length; the file is never modified after provisioning.
type TestFile struct {
	Name      string `json:"name"`
	Path      string `json:"-"`
	SizeBytes int64  `json:"size"`
}
