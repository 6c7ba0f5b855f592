package feishusdk

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const driveParentTypeExplorer = "explorer"

// files up to this size go through a single upload_all call
var uploadAllLimit int64 = 20 << 20

// DriveFile is the target of a drive upload.
type DriveFile struct {
	FolderToken string
	FileName    string
	Size        int64
	Content     io.Reader
}

// UploadFile uploads f into a drive folder and returns its file_token.
// onSent, when set, receives the cumulative number of bytes accepted.
func (c *Client) UploadFile(ctx context.Context, f DriveFile, onSent func(sent int64)) (string, error) {
	if c == nil {
		return "", errors.New("feishu: client is nil")
	}
	f.FolderToken = strings.TrimSpace(f.FolderToken)
	if f.FolderToken == "" {
		return "", errors.New("feishu: folder token is empty")
	}
	if f.Size <= 0 || f.Content == nil {
		return "", errors.New("feishu: upload content is empty")
	}
	f.FileName = filepath.Base(strings.TrimSpace(f.FileName))
	if f.FileName == "" || f.FileName == "." {
		f.FileName = "upload.apk"
	}
	if onSent == nil {
		onSent = func(int64) {}
	}
	if f.Size <= uploadAllLimit {
		return c.uploadAll(ctx, f, onSent)
	}
	return c.uploadChunked(ctx, f, onSent)
}

func (c *Client) uploadAll(ctx context.Context, f DriveFile, onSent func(int64)) (string, error) {
	content, err := io.ReadAll(io.LimitReader(f.Content, f.Size))
	if err != nil {
		return "", errors.Wrap(err, "feishu: read upload content")
	}
	body, contentType, err := multipartBody(map[string]string{
		"file_name":   f.FileName,
		"parent_type": driveParentTypeExplorer,
		"parent_node": f.FolderToken,
		"size":        strconv.Itoa(len(content)),
	}, f.FileName, content)
	if err != nil {
		return "", err
	}
	var data struct {
		FileToken string `json:"file_token"`
	}
	if err := c.doRequest(ctx, "upload_all", http.MethodPost, "/open-apis/drive/v1/files/upload_all", body, contentType, &data); err != nil {
		return "", err
	}
	onSent(int64(len(content)))
	return requireFileToken(data.FileToken)
}

func (c *Client) uploadChunked(ctx context.Context, f DriveFile, onSent func(int64)) (string, error) {
	var prepared struct {
		UploadID  string `json:"upload_id"`
		BlockSize int64  `json:"block_size"`
		BlockNum  int    `json:"block_num"`
	}
	err := c.doJSONRequest(ctx, "upload_prepare", http.MethodPost, "/open-apis/drive/v1/files/upload_prepare", map[string]any{
		"file_name":   f.FileName,
		"parent_type": driveParentTypeExplorer,
		"parent_node": f.FolderToken,
		"size":        f.Size,
	}, &prepared)
	if err != nil {
		return "", err
	}
	if prepared.UploadID == "" || prepared.BlockSize <= 0 {
		return "", errors.Errorf("feishu: invalid upload_prepare response id=%q block_size=%d", prepared.UploadID, prepared.BlockSize)
	}

	var sent int64
	buf := make([]byte, prepared.BlockSize)
	for seq := 0; seq < prepared.BlockNum; seq++ {
		n, err := io.ReadFull(f.Content, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return "", errors.Wrapf(err, "feishu: read block %d", seq)
		}
		body, contentType, err := multipartBody(map[string]string{
			"upload_id": prepared.UploadID,
			"seq":       strconv.Itoa(seq),
			"size":      strconv.Itoa(n),
		}, f.FileName, buf[:n])
		if err != nil {
			return "", err
		}
		if err := c.doRequest(ctx, "upload_part", http.MethodPost, "/open-apis/drive/v1/files/upload_part", body, contentType, nil); err != nil {
			return "", errors.Wrapf(err, "block %d/%d", seq+1, prepared.BlockNum)
		}
		sent += int64(n)
		onSent(sent)
	}

	var finished struct {
		FileToken string `json:"file_token"`
	}
	err = c.doJSONRequest(ctx, "upload_finish", http.MethodPost, "/open-apis/drive/v1/files/upload_finish", map[string]any{
		"upload_id": prepared.UploadID,
		"block_num": prepared.BlockNum,
	}, &finished)
	if err != nil {
		return "", err
	}
	return requireFileToken(finished.FileToken)
}

func multipartBody(fields map[string]string, fileName string, content []byte) (io.Reader, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, val := range fields {
		if err := writer.WriteField(key, val); err != nil {
			return nil, "", errors.Wrapf(err, "feishu: write multipart field %s", key)
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		_ = writer.Close()
		return nil, "", errors.Wrap(err, "feishu: create multipart file field")
	}
	if _, err := part.Write(content); err != nil {
		_ = writer.Close()
		return nil, "", errors.Wrap(err, "feishu: write multipart file")
	}
	if err := writer.Close(); err != nil {
		return nil, "", errors.Wrap(err, "feishu: finalize multipart payload")
	}
	return &body, writer.FormDataContentType(), nil
}

func requireFileToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("feishu: upload response missing file_token")
	}
	return token, nil
}
