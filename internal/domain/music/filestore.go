package music

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hajimehoshi/go-mp3"

	"koemuse-server/internal/platform/errors"
)

func decodeBase64Audio(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}

// FileStore writes generated audio payloads under a server-managed
// directory and exposes them through public URLs.
type FileStore struct {
	dir       string
	publicDir string
	baseURL   string
}

// NewFileStore ensures the output directory exists. publicDir is the URL
// path prefix the HTTP surface serves the directory under; baseURL, when
// non-empty, makes the returned URLs absolute so browsers on another
// origin can fetch the files.
func NewFileStore(dir, publicDir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "filestore.new", "failed to create music output directory", err)
	}
	return &FileStore{
		dir:       dir,
		publicDir: strings.Trim(publicDir, "/"),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}, nil
}

// Dir returns the filesystem directory the store writes to.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes the payload to a uuid-named file with the given extension
// and returns the filename and its public URL path.
func (s *FileStore) Save(audio []byte, extension string) (filename, urlPath string, err error) {
	filename = fmt.Sprintf("%s.%s", uuid.NewString(), extension)
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", "", errors.Wrap(errors.KindStorage, "filestore.save", "failed to write generated music file", err)
	}
	return filename, s.baseURL + "/" + s.publicDir + "/" + filename, nil
}

// ProbeMP3Duration decodes the MP3 header and returns the play length in
// seconds. Returns 0 when the payload is not decodable; duration is
// metadata, never a reason to fail the pipeline.
func ProbeMP3Duration(audio []byte) float64 {
	decoder, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return 0
	}
	sampleRate := decoder.SampleRate()
	if sampleRate <= 0 {
		return 0
	}
	// Length is the decoded size in bytes, 4 bytes per stereo sample.
	return float64(decoder.Length()) / 4 / float64(sampleRate)
}
