// Package manifest persists the handful of facts a DataStore needs to
// recover its on-disk layout across restarts: the next disktable id to
// allocate and the on-disk format version. It is rewritten in full on every
// change, never appended to, via write-to-temp-then-rename so a crash mid
// write never leaves a half-written manifest behind.
package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	natomic "github.com/natefinch/atomic"
)

// FileName is the manifest's fixed name within a DataStore's data directory.
const FileName = "MANIFEST"

// CurrentFormatVersion is written into every manifest produced by this
// build. A future format change bumps this and teaches Load to handle older
// values.
const CurrentFormatVersion uint16 = 1

const encodedSize = 8 + 2 // NextDisktableID + FormatVersion

// ErrUnsupportedVersion is returned by Load when the manifest on disk
// declares a format version this build does not know how to read.
var ErrUnsupportedVersion = errors.New("manifest: unsupported format version")

// Manifest is the decoded contents of the MANIFEST file.
type Manifest struct {
	NextDisktableID uint64
	FormatVersion   uint16
}

// Load reads the manifest from dir. A missing manifest is not an error: it
// means a fresh DataStore, and Load returns the zero-state manifest (first
// disktable id 1, current format version).
func Load(dir string) (Manifest, error) {
	path := filepath.Join(dir, FileName)

	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{NextDisktableID: 1, FormatVersion: CurrentFormatVersion}, nil
	}
	if err != nil {
		return Manifest{}, err
	}

	if len(buf) < encodedSize {
		return Manifest{}, errors.New("manifest: truncated manifest file")
	}

	m := Manifest{
		NextDisktableID: binary.LittleEndian.Uint64(buf[0:8]),
		FormatVersion:   binary.LittleEndian.Uint16(buf[8:10]),
	}
	if m.FormatVersion != CurrentFormatVersion {
		return Manifest{}, ErrUnsupportedVersion
	}
	return m, nil
}

// Save rewrites the manifest in dir atomically: the new contents land on
// disk in full, under their final name, or not at all.
func Save(dir string, m Manifest) error {
	buf := make([]byte, encodedSize)
	binary.LittleEndian.PutUint64(buf[0:8], m.NextDisktableID)
	binary.LittleEndian.PutUint16(buf[8:10], m.FormatVersion)

	path := filepath.Join(dir, FileName)
	return natomic.WriteFile(path, bytes.NewReader(buf))
}
