package dify

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// User-facing messages, keyed by upstream condition. The product ships in
// Vietnamese, so these strings are surfaced verbatim to the caller.
const (
	msgNotConfigured = "Dịch vụ trò chuyện chưa được cấu hình. Vui lòng liên hệ hỗ trợ."
	msgTimeout       = "Câu hỏi của bạn quá phức tạp, tôi cần thêm thời gian. Hãy thử câu ngắn gọn hơn hoặc chia nhỏ vấn đề."
	msgConnection    = "Kết nối mạng có vấn đề. Vui lòng kiểm tra kết nối internet và thử lại."
	msgDefault       = "Đã xảy ra lỗi khi xử lý yêu cầu của bạn. Vui lòng thử lại sau."
)

var statusMessages = map[int]string{
	400: "Yêu cầu không hợp lệ. Vui lòng thử lại với nội dung khác.",
	401: "Phiên làm việc của bạn đã hết hạn. Vui lòng tải lại trang để tiếp tục trò chuyện.",
	403: "Bạn không có quyền truy cập chức năng này.",
	404: "Không thể kết nối đến trợ lý AI. Vui lòng thử lại sau.",
	429: "Xin lỗi! Tôi đang nhận quá nhiều yêu cầu. Hãy đợi một lát và thử lại nhé.",
	500: "Hệ thống AI tạm thời không phản hồi. Tôi sẽ sớm hoạt động trở lại!",
	502: "Hệ thống AI tạm thời không phản hồi. Tôi sẽ sớm hoạt động trở lại!",
	503: "Hệ thống AI tạm thời không phản hồi. Tôi sẽ sớm hoạt động trở lại!",
	504: "Hệ thống AI tạm thời không phản hồi. Tôi sẽ sớm hoạt động trở lại!",
}

// Error reports a failed chat request together with the message that should
// be shown to the end user.
type Error struct {
	StatusCode  int
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dify: status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dify: status=%d: %s", e.StatusCode, e.UserMessage)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusMessage maps an upstream HTTP status to its user-facing message.
func StatusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return msgDefault
}

// UserMessage extracts the user-facing message from err, falling back to the
// generic one for errors that did not originate here.
func UserMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.UserMessage
	}
	return msgDefault
}

// configError marks requests rejected before any network call was made.
func configError(reason string) *Error {
	return &Error{StatusCode: 0, UserMessage: msgNotConfigured, Err: errors.New(reason)}
}

// httpError maps a non-success upstream response.
func httpError(status int, body string) *Error {
	return &Error{
		StatusCode:  status,
		UserMessage: StatusMessage(status),
		Err:         fmt.Errorf("upstream status %d: %s", status, body),
	}
}

// transportError classifies connection-level failures. Timeouts get their own
// advice since the usual fix is a shorter query.
func transportError(err error) *Error {
	msg := msgConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		msg = msgTimeout
	}
	return &Error{StatusCode: 0, UserMessage: msg, Err: err}
}
