package errors

// StorageError is a specialized error type for storage-related operations.
// It embeds baseError to inherit all the standard error functionality, then adds
// storage-specific fields that help pinpoint exactly where problems occurred.
type StorageError struct {
	*baseError
	diskTableID uint64 // Which disktable was being accessed when the error occurred.
	offset      int    // Byte offset within the disktable where the problem happened.
	fileName    string // Name of the file that caused the issue.
	path        string // Path of the file that caused the issue.
}

// NewStorageError creates a new storage-specific error.
func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

// WithDiskTableID sets which disktable was involved in the error.
func (se *StorageError) WithDiskTableID(id uint64) *StorageError {
	se.diskTableID = id
	return se
}

// WithOffset records the byte position where the error occurred.
func (se *StorageError) WithOffset(offset int) *StorageError {
	se.offset = offset
	return se
}

// WithFileName captures which file was being processed when the error occurred.
func (se *StorageError) WithFileName(fileName string) *StorageError {
	se.fileName = fileName
	return se
}

// WithPath captures which path was being processed when the error occurred.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	return se
}

// DiskTableID returns the disktable identifier where the error occurred.
func (se *StorageError) DiskTableID() uint64 {
	return se.diskTableID
}

// Offset returns the byte offset within the disktable where the error happened.
// Combined with DiskTableID, this gives you the exact location of the problem.
func (se *StorageError) Offset() int {
	return se.offset
}

// FileName returns the name of the file that was being processed.
func (se *StorageError) FileName() string {
	return se.fileName
}

// Path returns the path of the file that was being processed.
func (se *StorageError) Path() string {
	return se.path
}
