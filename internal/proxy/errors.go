package proxy

import (
	"errors"
	"fmt"
)

// ErrEmptySourceURL 源地址为空
var ErrEmptySourceURL = errors.New("imageUrl is required")

// Stage 后台流程的阶段
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageCompress Stage = "compress"
	StageUpload   Stage = "upload"
)

// FlowError 标记失败发生的阶段
type FlowError struct {
	Stage Stage
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// StageOf 返回错误所属阶段, 非流程错误返回空字符串
func StageOf(err error) Stage {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}
