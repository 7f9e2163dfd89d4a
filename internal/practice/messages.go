package practice

import (
	"github.com/windfall/pronunciation_service/internal/errors"
)

var messages = map[errors.ErrorCode]string{
	errors.ErrDeviceUnavailable:   "无法访问麦克风，请检查设备和权限设置。",
	errors.ErrAlreadyRecording:    "正在录音中，请先结束当前录音。",
	errors.ErrEmptyRecording:      "没有录到声音，请重试。",
	errors.ErrVendorUnavailable:   "评测服务暂时不可用，请稍后再试。",
	errors.ErrVendorTimeout:       "评测服务响应超时，请重新录音再试。",
	errors.ErrConnectionFailed:    "无法连接评测服务，请检查网络后重试。",
	errors.ErrConnectionDropped:   "与评测服务的连接意外中断，请重新录音。",
	errors.ErrMalformedResponse:   "评测结果解析失败，请重新录音。",
	errors.ErrServerConfiguration: "服务器配置错误，请联系管理员。",
	errors.ErrEmptyInput:          "没有可以朗读的内容。",
	errors.ErrUnauthorized:        "登录已失效，请重新登录。",
}

// Message converts an error into the text shown to the learner.
func Message(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := errors.As(err)
	if !ok {
		return "发生未知错误，请稍后再试。"
	}
	switch appErr.Code {
	case errors.ErrVendorError:
		return "评测服务返回错误：" + appErr.Message
	case errors.ErrValidation, errors.ErrNotFound, errors.ErrConflict:
		if appErr.Message != "" {
			return appErr.Message
		}
		return "请求参数有误，请检查后重试。"
	}
	if msg, ok := messages[appErr.Code]; ok {
		return msg
	}
	return "发生未知错误，请稍后再试。"
}
