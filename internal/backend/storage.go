package backend

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// Upload attaches an image to a listing and decodes the updated listing into out.
func (c *Client) Upload(ctx context.Context, propertyID, filename, contentType string, content io.Reader, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNoSession
	}

	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		header.Set("Content-Type", contentType)
		part, err := form.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = form.Close()
		}
		writer.CloseWithError(err)
	}()

	path := "/api/properties/" + url.PathEscape(propertyID) + "/images"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body, token)
	if err != nil {
		body.Close()
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		body.Close()
		return fmt.Errorf("upload image: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// PublicURL returns the address a stored object is served from. Absolute
// URLs are returned unchanged.
func (c *Client) PublicURL(key string) string {
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	return c.baseURL + "/storage/" + strings.TrimLeft(key, "/")
}
