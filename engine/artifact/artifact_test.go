package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/rollwin/pkg/fn"
)

type fakePutter struct {
	fails   int
	objects map[string]string
	types   map[string]string
	calls   int
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("slow down")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects, f.types = map[string]string{}, map[string]string{}
	}
	key := aws.ToString(in.Key)
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, p, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestUploadKeysByRelativePath(t *testing.T) {
	root := t.TempDir()
	nodes := writeFile(t, filepath.Join(root, "nodes", "node_features_rw_2004_3y.parquet"), "n")
	man := writeFile(t, filepath.Join(root, "manifest", "manifest_abc.parquet"), "m")

	fp := &fakePutter{}
	m := New(fp, "bucket", "runs/r1", root, nil)
	require.NoError(t, m.Upload(context.Background(), nodes, man))

	assert.Equal(t, "n", fp.objects["runs/r1/nodes/node_features_rw_2004_3y.parquet"])
	assert.Equal(t, "m", fp.objects["runs/r1/manifest/manifest_abc.parquet"])
	assert.Equal(t, parquetType, fp.types["runs/r1/manifest/manifest_abc.parquet"])
}

func TestUploadRetries(t *testing.T) {
	root := t.TempDir()
	file := writeFile(t, filepath.Join(root, "edges", "e.parquet"), "edges")

	fp := &fakePutter{fails: 2}
	m := New(fp, "bucket", "", root, nil)
	m.Retry = fn.RetryOpts{MaxAttempts: 3}
	require.NoError(t, m.Upload(context.Background(), file))
	assert.Equal(t, 3, fp.calls)
	assert.Equal(t, "edges", fp.objects["edges/e.parquet"], "body is reopened on every attempt")

	fp = &fakePutter{fails: 5}
	m.Client = fp
	err := m.Upload(context.Background(), file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edges/e.parquet")
	assert.Equal(t, 3, fp.calls)
}

func TestKeyRejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	m := New(&fakePutter{}, "b", "p", filepath.Join(root, "run"), nil)
	_, err := m.Key(filepath.Join(root, "other", "x.parquet"))
	assert.Error(t, err)

	key, err := m.Key(filepath.Join(root, "run", "x.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "p/x.parquet", key)
}

func TestUploadMissingFile(t *testing.T) {
	root := t.TempDir()
	m := New(&fakePutter{}, "b", "", root, nil)
	m.Retry = fn.RetryOpts{MaxAttempts: 1}
	assert.Error(t, m.Upload(context.Background(), filepath.Join(root, "missing.parquet")))
}
