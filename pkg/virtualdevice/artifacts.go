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

package virtualdevice

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArtifactSink receives log files collected from a torn down instance.
type ArtifactSink interface {
	SaveArtifact(ctx context.Context, session *Session, name, path string) error
}

// DirArtifactSink copies artifacts into Dir as <instance>_<name>.
type DirArtifactSink struct {
	Dir string
}

func (s *DirArtifactSink) SaveArtifact(_ context.Context, session *Session, name, path string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	prefix := session.InstanceName
	if prefix == "" {
		prefix = session.ID.String()
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	dst := filepath.Join(s.Dir, prefix+"_"+name)

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", name, err)
	}

	return out.Close()
}
