package feishusdk

import (
	"context"
	"encoding/json"
	"strings"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/pkg/errors"
)

// SendText posts a plain text message to a chat and returns the message id.
func (c *Client) SendText(ctx context.Context, chatID, text string) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", errors.New("feishu: chat id is empty")
	}
	if c.messageAPI == nil {
		return "", errors.New("feishu: message sdk client is nil")
	}
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", errors.Wrap(err, "feishu: marshal message content")
	}
	token, err := c.getTenantAccessToken(ctx)
	if err != nil {
		return "", err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()
	resp, err := c.messageAPI.Create(ctx, req, c.tenantRequestOptions(token)...)
	if err != nil {
		return "", errors.Wrap(err, "feishu: send message")
	}
	if !resp.Success() {
		return "", &APIError{Op: "send_message", Code: resp.Code, Msg: resp.Msg}
	}
	if resp.Data == nil || resp.Data.MessageId == nil {
		return "", nil
	}
	return *resp.Data.MessageId, nil
}
