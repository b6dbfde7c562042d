// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cloudstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileClient maps a bucket to a directory under base. Objects are
// written to a temp file and renamed so readers never see partial data.
type fileClient struct {
	root string
}

func newFileClient(base, bucket string) (*fileClient, error) {
	if base == "" {
		return nil, fmt.Errorf("file object store requires a path")
	}
	return &fileClient{root: filepath.Join(base, bucket)}, nil
}

func (c *fileClient) path(key string) (string, error) {
	p := filepath.Join(c.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("object key %q escapes the bucket", key)
	}
	return p, nil
}

func (c *fileClient) PutObject(ctx context.Context, key string, body []byte, _ string) (err error) {
	defer func() { recordUpload(ctx, "file", filepath.Base(c.root), len(body), err) }()

	dst, err := c.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (c *fileClient) Ping(context.Context) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(c.root, ".spanrunner-check-*")
	if err != nil {
		return fmt.Errorf("bucket directory %s is not writable: %w", c.root, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
