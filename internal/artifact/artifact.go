// Package artifact implements the artifact uploader (spec §4.3): batches
// or live streams are gzip-compressed JSONL, uploaded via a presigned
// multipart POST, and confirmed with the control plane. Grounded on
// pkg/client/upload.go's io.Pipe + multipart.Writer streaming upload and
// its 200/303-are-both-success response handling.
package artifact

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/devrev/airdropkit/internal/controlplane"
	"github.com/devrev/airdropkit/internal/event"
	"github.com/devrev/airdropkit/internal/ferr"
	"github.com/devrev/airdropkit/internal/xlog"
)

// ControlPlane is the subset of the control-plane client the uploader needs.
type ControlPlane interface {
	GetArtifactUploadURL(ctx context.Context, token, fileName, fileType string, fileSize int64, requestID string) (controlplane.ArtifactToUpload, error)
	ConfirmArtifactUpload(ctx context.Context, token, artifactID, requestID string) error
}

// UploadDescriptor is an alias for the control-plane's presigned-upload
// descriptor, kept as a local name so callers outside controlplane don't
// need to spell the import.
type UploadDescriptor = controlplane.ArtifactToUpload

// Backend additionally mirrors the artifact to a customer-owned object
// store (spec §3.1 domain-stack expansion); nil means "platform object
// store only".
type Backend interface {
	// Put uploads contents (already compressed) under name, returning
	// nothing the adapter needs back: the platform's own artifact id is
	// authoritative. Put is best-effort and its failure does not fail
	// the upload — the backend callers decide how to log it.
	Put(ctx context.Context, name string, contents io.Reader, size int64) error
}

// Uploader implements spec §4.3's uploadBatch and streamUpload.
type Uploader struct {
	cp      ControlPlane
	token   string
	reqID   string
	mirror  Backend
	log     *xlog.Logger
	httpCli *http.Client
}

// New returns an Uploader. mirror may be nil.
func New(cp ControlPlane, token, requestID string, mirror Backend, log *xlog.Logger) *Uploader {
	if log == nil {
		log = xlog.New("artifact", nil)
	}
	return &Uploader{
		cp:      cp,
		token:   token,
		reqID:   requestID,
		mirror:  mirror,
		log:     log,
		httpCli: &http.Client{
			// A 3xx from the upload URL counts as success; never follow it.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

const maxFileNameLen = 256

// sanitizeFileName truncates names over 256 characters to
// prefix + "..." + last-20-chars, preserving the extension the way the
// truncated tail keeps everything after the cut.
func sanitizeFileName(name string) string {
	if len(name) <= maxFileNameLen {
		return name
	}
	tailLen := 20
	tail := name[len(name)-tailLen:]
	headLen := maxFileNameLen - len("...") - tailLen
	return name[:headLen] + "..." + tail
}

// UploadBatch serializes objects to JSONL, gzips, and uploads the result
// as one artifact of the given item type.
func (u *Uploader) UploadBatch(ctx context.Context, itemType string, objects []interface{}) (event.Artifact, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, obj := range objects {
		if err := enc.Encode(obj); err != nil {
			gz.Close()
			return event.Artifact{}, fmt.Errorf("artifact: encode jsonl: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return event.Artifact{}, fmt.Errorf("artifact: gzip close: %w", err)
	}

	fileName := sanitizeFileName(itemType + ".jsonl.gz")
	art, err := u.upload(ctx, itemType, fileName, "application/x-gzip", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return event.Artifact{}, err
	}
	art.ItemCount = len(objects)
	return art, nil
}

// StreamUpload streams an HTTP download body straight through to object
// storage. Without a mirror backend the body is never held whole in
// memory; with one, a full copy is buffered for the mirror's Put.
func (u *Uploader) StreamUpload(ctx context.Context, itemType string, stream io.ReadCloser, contentLength int64, fileName string) (event.Artifact, error) {
	defer stream.Close()

	if contentLength > event.MaxArtifactSizeBytes {
		return event.Artifact{}, ferr.Skippable(fmt.Errorf("%w: %d bytes", ferr.ErrAttachmentTooLarge, contentLength))
	}

	effectiveLen := contentLength
	if effectiveLen <= 0 {
		effectiveLen = event.MaxArtifactSizeBytes
	}

	art, err := u.upload(ctx, itemType, sanitizeFileName(fileName), "application/octet-stream", stream, effectiveLen)
	if err != nil {
		return event.Artifact{}, err
	}
	art.ItemCount = 1
	return art, nil
}

// upload performs the presigned multipart POST common to both entry
// points, following pkg/client/upload.go's io.Pipe()+multipart.Writer
// streaming-upload construction and its "200 or 303 is success" rule,
// generalized here to any 2xx or 3xx status (redirects are not followed).
func (u *Uploader) upload(ctx context.Context, itemType, fileName, fileType string, body io.Reader, size int64) (event.Artifact, error) {
	desc, err := u.cp.GetArtifactUploadURL(ctx, u.token, fileName, fileType, size, u.reqID)
	if err != nil {
		return event.Artifact{}, fmt.Errorf("artifact: get upload url: %w", err)
	}

	if u.mirror != nil {
		var mirrorBuf bytes.Buffer
		tee := io.TeeReader(body, &mirrorBuf)
		if err := u.postMultipart(ctx, desc, tee); err != nil {
			return event.Artifact{}, err
		}
		if mirrErr := u.mirror.Put(ctx, fileName, &mirrorBuf, size); mirrErr != nil {
			u.log.Warnf("mirror backend failed for %s: %v", fileName, mirrErr)
		}
	} else {
		if err := u.postMultipart(ctx, desc, body); err != nil {
			return event.Artifact{}, err
		}
	}

	if err := u.cp.ConfirmArtifactUpload(ctx, u.token, desc.ArtifactID, u.reqID); err != nil {
		return event.Artifact{}, fmt.Errorf("artifact: confirm upload: %w", err)
	}

	return event.Artifact{ID: desc.ArtifactID, ItemType: itemType}, nil
}

func (u *Uploader) postMultipart(ctx context.Context, desc UploadDescriptor, body io.Reader) error {
	pipeReader, pipeWriter := io.Pipe()
	mw := multipart.NewWriter(pipeWriter)

	copyErr := make(chan error, 1)
	go func() {
		defer pipeWriter.Close()
		for k, v := range desc.FormData {
			if err := mw.WriteField(k, v); err != nil {
				copyErr <- err
				return
			}
		}
		part, err := mw.CreateFormFile("file", "file")
		if err != nil {
			copyErr <- err
			return
		}
		if _, err := io.Copy(part, body); err != nil {
			copyErr <- err
			return
		}
		copyErr <- mw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, desc.URL, pipeReader)
	if err != nil {
		return fmt.Errorf("artifact: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("artifact: upload http error: %w", err)
	}
	defer resp.Body.Close()

	if err := <-copyErr; err != nil {
		return fmt.Errorf("artifact: multipart encode: %w", err)
	}

	if resp.StatusCode/100 != 2 && resp.StatusCode/100 != 3 {
		return fmt.Errorf("artifact: unexpected upload status %d", resp.StatusCode)
	}
	return nil
}

// ItemTypeExtension returns the artifact file name for itemType: itemType
// with ".jsonl.gz" appended, unless it already ends in that suffix.
// UploadBatch builds its file name directly and does not call it.
func ItemTypeExtension(itemType string) string {
	if strings.HasSuffix(itemType, ".jsonl.gz") {
		return itemType
	}
	return itemType + ".jsonl.gz"
}
