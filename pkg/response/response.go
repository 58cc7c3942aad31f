package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"miaoda-term/pkg/code"
	"miaoda-term/pkg/e"
)

type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"` // data 字段可以是 null, object, array
}

// Result 基础响应方法
func Result(w http.ResponseWriter, httpStatus int, bizCode int, msg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	json.NewEncoder(w).Encode(Response{
		Code: bizCode,
		Msg:  msg,
		Data: data,
	})
}

// Success 成功响应 (HTTP 200)
func Success(w http.ResponseWriter, data interface{}) {
	Result(w, http.StatusOK, code.Success, "success", data)
}

// Error 错误响应 (HTTP 200, 业务错误码非0)
// 原始错误不返回给前端，由调用方记录日志
func Error(w http.ResponseWriter, err error) {
	var bizErr *e.CodeError
	if errors.As(err, &bizErr) {
		Result(w, http.StatusOK, bizErr.Code, bizErr.Msg, nil)
		return
	}
	Result(w, http.StatusOK, code.ServerError, code.GetMsg(code.ServerError), nil)
}
