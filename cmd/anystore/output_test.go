package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagarc03/anystore"
)

func fileEntry(path string, size int64) anystore.Entry {
	meta := anystore.NewMetadata(anystore.ModeFile)
	meta.SetContentLength(size)
	meta.SetETag("abc123")
	meta.SetLastModified(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	return anystore.Entry{Path: path, Metadata: meta}
}

func TestHumanFormatter_FormatList(t *testing.T) {
	tests := []struct {
		name     string
		entries  []anystore.Entry
		next     string
		contains []string
	}{
		{
			name:     "empty",
			contains: []string{"No entries found"},
		},
		{
			name:     "files and dirs",
			entries:  []anystore.Entry{fileEntry("a.txt", 2048), anystore.NewEntry("docs/")},
			contains: []string{"PATH", "a.txt", "2.0 KB", "docs/", "2 entries (2.0 KB total)", "2024-01-15 10:30:00"},
		},
		{
			name:     "next token",
			entries:  []anystore.Entry{fileEntry("a.txt", 1)},
			next:     "tok",
			contains: []string{`--token "tok"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, (&HumanFormatter{}).FormatList(&buf, tt.entries, tt.next))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestHumanFormatter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	f := &HumanFormatter{Quiet: true}

	require.NoError(t, f.FormatStat(&buf, fileEntry("a.txt", 1)))
	require.NoError(t, f.FormatInfo(&buf, anystore.AccessorInfo{Scheme: "memory"}))

	assert.Empty(t, buf.String())
}

func TestJSONFormatter_FormatStat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatStat(&buf, fileEntry("a.txt", 5)))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "a.txt", got["path"])
	assert.EqualValues(t, 5, got["size_bytes"])
	assert.Equal(t, "abc123", got["etag"])
	assert.NotContains(t, got, "dir")
	assert.NotContains(t, got, "content_type")
}

func TestJSONFormatter_FormatList(t *testing.T) {
	var buf bytes.Buffer
	err := (&JSONFormatter{}).FormatList(&buf, []anystore.Entry{anystore.NewEntry("d/")}, "")
	require.NoError(t, err)

	var got struct {
		Items []struct {
			Path string `json:"path"`
			Dir  bool   `json:"dir"`
		} `json:"items"`
		NextCursor string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "d/", got.Items[0].Path)
	assert.True(t, got.Items[0].Dir)
	assert.Empty(t, got.NextCursor)
}

func TestFormatPresign(t *testing.T) {
	u, err := url.Parse("http://localhost:5708/a.txt?X-Amz-Signature=abc")
	require.NoError(t, err)
	req := anystore.PresignedRequest{Method: http.MethodPut, URL: u, Header: http.Header{"Content-Type": {"text/plain"}}}

	var human bytes.Buffer
	require.NoError(t, (&HumanFormatter{}).FormatPresign(&human, req))
	assert.Equal(t, "PUT http://localhost:5708/a.txt?X-Amz-Signature=abc\n  Content-Type: text/plain\n", human.String())

	var js bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatPresign(&js, req))
	assert.Contains(t, js.String(), `"method": "PUT"`)
}

func TestJSONFormatter_FormatError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"typed", anystore.NewError(anystore.KindNotFound, "missing"), "NotFound"},
		{"wrapped", fmt.Errorf("stat: %w", anystore.NewError(anystore.KindPermissionDenied, "no")), "PermissionDenied"},
		{"plain", errors.New("boom"), "Unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, (&JSONFormatter{}).FormatError(&buf, tt.err))

			var got map[string]string
			require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
			assert.Equal(t, tt.err.Error(), got["error"])
			assert.Equal(t, tt.kind, got["kind"])
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.0 TB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.in))
		})
	}
}
