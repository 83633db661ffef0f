package util

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateProgress 校验进度事件或离线队列条目，失败时包装 ErrInvalidProgress
func ValidateProgress(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, err)
	}
	return nil
}
