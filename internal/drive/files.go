package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/ledgerhost/ledgerhost/internal/atomicfile"
	"github.com/ledgerhost/ledgerhost/internal/fault"
	"github.com/ledgerhost/ledgerhost/internal/retention"
)

// pageSize is the listing page size requested from the API.
const pageSize = 100

// pruneConcurrency bounds parallel deletes during tagged rotation.
const pruneConcurrency = 4

// stampLayout is the timestamp embedded in generated file names.
const stampLayout = "20060102_150405"

// File describes one remote file in the application space.
type File struct {
	ID           string
	Name         string
	ModifiedTime time.Time
}

// fileResponse mirrors the API's JSON shape for one file.
type fileResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modifiedTime"`
}

type listResponse struct {
	Files         []fileResponse `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

// toFile converts an API file. An unparseable modifiedTime becomes the zero
// time, which sorts the file as oldest.
func (r *fileResponse) toFile() File {
	f := File{ID: r.ID, Name: norm.NFC.String(r.Name)}

	if t, err := time.Parse(time.RFC3339Nano, r.ModifiedTime); err == nil {
		f.ModifiedTime = t
	}

	return f
}

// List returns every file in the application space, following pagination.
func (c *Client) List(ctx context.Context) ([]File, error) {
	var (
		files     []File
		pageToken string
	)

	for {
		q := url.Values{}
		q.Set("spaces", c.cfg.Space)
		q.Set("pageSize", fmt.Sprint(pageSize))
		q.Set("fields", "nextPageToken,files(id,name,modifiedTime)")

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		resp, err := c.do(ctx, "drive.list", http.MethodGet, c.cfg.APIURL+"/files?"+q.Encode(), "", nil)
		if err != nil {
			return nil, err
		}

		var page listResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()

		if decodeErr != nil {
			return nil, fault.New(fault.NetworkFailure, "drive.list", fmt.Errorf("decoding listing: %w", decodeErr))
		}

		for i := range page.Files {
			files = append(files, page.Files[i].toFile())
		}

		if page.NextPageToken == "" {
			break
		}

		pageToken = page.NextPageToken
	}

	c.logger.Debug("listed application files", slog.Int("count", len(files)))

	return files, nil
}

// Upload stores the file at localPath under its base name and returns the
// new file ID.
func (c *Client) Upload(ctx context.Context, localPath string) (string, error) {
	return c.UploadAs(ctx, localPath, filepath.Base(localPath))
}

// UploadAs stores the file at localPath under name.
func (c *Client) UploadAs(ctx context.Context, localPath, name string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fault.New(fault.StorageFailure, "drive.upload", fmt.Errorf("reading %s: %w", localPath, err))
	}

	body, contentType, err := c.multipartBody(name, content)
	if err != nil {
		return "", fault.New(fault.StorageFailure, "drive.upload", err)
	}

	resp, err := c.do(ctx, "drive.upload", http.MethodPost,
		c.cfg.UploadURL+"/files?uploadType=multipart&fields=id", contentType, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fault.New(fault.NetworkFailure, "drive.upload", fmt.Errorf("decoding upload response: %w", err))
	}

	c.logger.Info("uploaded file",
		slog.String("name", name),
		slog.String("id", created.ID),
		slog.Int("bytes", len(content)),
	)

	return created.ID, nil
}

// UploadTagged uploads localPath as {prefix}_{tag}_{timestamp}.json and then
// rotates the tag so that only the keep newest remain. Rotation is
// best-effort: its failures are logged and never fail the upload.
func (c *Client) UploadTagged(ctx context.Context, localPath, tag string, keep int) (string, error) {
	if tag == "" || strings.ContainsAny(tag, "_/") {
		return "", fault.Newf(fault.StorageFailure, "drive.upload_tagged", "invalid tag %q", tag)
	}

	if keep <= 0 {
		keep = DefaultKeep
	}

	name := TaggedName(c.cfg.FilePrefix, tag, c.nowFunc())

	id, err := c.UploadAs(ctx, localPath, name)
	if err != nil {
		return "", err
	}

	c.pruneTagged(ctx, tag, keep)

	return id, nil
}

// TaggedName builds the remote name for a tagged snapshot.
func TaggedName(prefix, tag string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.json", prefix, tag, at.UTC().Format(stampLayout))
}

// HasTag reports whether name belongs to the rotation group for tag.
func HasTag(name, tag string) bool {
	return strings.Contains(norm.NFC.String(name), "_"+tag+"_")
}

func (c *Client) pruneTagged(ctx context.Context, tag string, keep int) {
	files, err := c.List(ctx)
	if err != nil {
		c.logger.Warn("tagged rotation skipped: listing failed",
			slog.String("tag", tag),
			slog.String("error", err.Error()),
		)

		return
	}

	var group []File

	for _, f := range files {
		if HasTag(f.Name, tag) {
			group = append(group, f)
		}
	}

	_, prune := retention.Select(group, func(f File) time.Time { return f.ModifiedTime },
		retention.KeepNewest(keep), c.nowFunc())

	if len(prune) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(pruneConcurrency)

	for _, f := range prune {
		g.Go(func() error {
			if delErr := c.Delete(ctx, f.ID); delErr != nil {
				c.logger.Warn("tagged rotation delete failed",
					slog.String("name", f.Name),
					slog.String("error", delErr.Error()),
				)
			}

			return nil
		})
	}

	_ = g.Wait()

	c.logger.Info("tagged rotation complete",
		slog.String("tag", tag),
		slog.Int("kept", len(group)-len(prune)),
		slog.Int("pruned", len(prune)),
	)
}

// Delete removes a file by ID.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	resp, err := c.do(ctx, "drive.delete", http.MethodDelete, c.fileURL(fileID), "", nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	c.logger.Debug("deleted file", slog.String("id", fileID))

	return nil
}

// Download fetches a file's content into dir under a timestamped name and
// returns the local path.
func (c *Client) Download(ctx context.Context, fileID, dir string) (string, error) {
	resp, err := c.do(ctx, "drive.download", http.MethodGet, c.fileURL(fileID)+"?alt=media", "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	name := fmt.Sprintf("%s_%s.json", c.cfg.DownloadPrefix, c.nowFunc().UTC().Format(stampLayout))
	path := filepath.Join(dir, name)

	var n int64

	err = atomicfile.WriteFrom(path, 0o600, func(w io.Writer) error {
		var copyErr error
		n, copyErr = io.Copy(w, resp.Body)

		return copyErr
	})
	if err != nil {
		return "", fault.New(fault.StorageFailure, "drive.download", err)
	}

	c.logger.Info("downloaded file",
		slog.String("id", fileID),
		slog.String("path", path),
		slog.Int64("bytes", n),
	)

	return path, nil
}

func (c *Client) fileURL(fileID string) string {
	return c.cfg.APIURL + "/files/" + url.PathEscape(fileID)
}

// multipartBody builds a multipart/related body of JSON metadata followed by
// the file content.
func (c *Client) multipartBody(name string, content []byte) ([]byte, string, error) {
	meta, err := json.Marshal(map[string]any{
		"name":    name,
		"parents": []string{c.cfg.Space},
	})
	if err != nil {
		return nil, "", fmt.Errorf("encoding metadata: %w", err)
	}

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return nil, "", err
	}

	if _, err := metaPart.Write(meta); err != nil {
		return nil, "", err
	}

	contentPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json"},
	})
	if err != nil {
		return nil, "", err
	}

	if _, err := contentPart.Write(content); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), "multipart/related; boundary=" + mw.Boundary(), nil
}
