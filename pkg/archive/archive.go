/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package archive unpacks build input archives (zip, tar.gz, tar.zst) onto disk.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	ErrUnsafePath        = errors.New("archive entry escapes destination")
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Format identifies an archive container by file name.
type Format string

const (
	FormatNone  Format = ""
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
	FormatTarZs Format = "tar.zst"
)

// DetectFormat returns the archive format implied by name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.zst"):
		return FormatTarZs
	default:
		return FormatNone
	}
}

// IsArchive reports whether name looks like a supported archive.
func IsArchive(name string) bool {
	return DetectFormat(name) != FormatNone
}

// Extract unpacks src into dst, creating dst if needed.
func Extract(src, dst string) error {
	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	switch DetectFormat(src) {
	case FormatZip:
		return extractZip(src, dst)
	case FormatTarGz:
		return extractTar(src, dst, func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		})
	case FormatTarZs:
		return extractTar(src, dst, func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}

			return dec.IOReadCloser(), nil
		})
	case FormatNone:
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(src))
}

func extractZip(src, dst string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", src, err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		target, err := safeJoin(dst, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return err
			}

			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s in zip: %w", f.Name, err)
		}

		err = writeFile(target, rc, modeOrDefault(f.Mode()))
		_ = rc.Close()

		if err != nil {
			return err
		}
	}

	return nil
}

func extractTar(src, dst string, decompress func(io.Reader) (io.ReadCloser, error)) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	dec, err := decompress(in)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	defer func() { _ = dec.Close() }()

	tr := tar.NewReader(dec)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}

		target, err := safeJoin(dst, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, modeOrDefault(hdr.FileInfo().Mode())); err != nil {
				return err
			}
		default:
			// links and devices are not needed by any build input
		}
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}

	return out.Close()
}

func safeJoin(dst, name string) (string, error) {
	target := filepath.Join(dst, name)

	rel, err := filepath.Rel(dst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}

	return target, nil
}

func modeOrDefault(mode os.FileMode) os.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm
	}

	return filePerm
}
