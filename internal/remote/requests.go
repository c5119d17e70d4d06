package remote

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
)

// UploadRequest is the body of POST /api/upload-file/.
type UploadRequest struct {
	Filename    string
	ContentType string
	Content     []byte
}

// encode writes the multipart form with a single "file" part.
func (r UploadRequest) encode() (body *bytes.Buffer, contentType string, err error) {
	body = &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	ct := r.ContentType
	if ct == "" {
		ct = "video/mp4"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, r.Filename))
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(r.Content); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body, mw.FormDataContentType(), nil
}

// uploadResponse is the JSON answer of the upload endpoint.
type uploadResponse struct {
	FilePath string `json:"file_path"`
}

// RegisterRequest is the body of POST /mobile/api/wesign-create/.
type RegisterRequest struct {
	APIKey        string
	VideoBundleID string
	VideoPath     string
}

func (r RegisterRequest) encode() (body *bytes.Buffer, contentType string, err error) {
	body = &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range [][2]string{
		{"api_key", r.APIKey},
		{"video_bundle_id", r.VideoBundleID},
		{"video_path", r.VideoPath},
	} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body, mw.FormDataContentType(), nil
}

// FetchRequest is the query of GET /mobile/api/wesign-get.
type FetchRequest struct {
	APIKey        string
	VideoBundleID string
	VideoPath     string
}

func (r FetchRequest) query() url.Values {
	q := url.Values{}
	q.Set("video_bundle_id", r.VideoBundleID)
	q.Set("video_path", r.VideoPath)
	q.Set("api_key", r.APIKey)
	return q
}
